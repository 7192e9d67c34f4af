// Package sheet is the Review/Status pipeline against the Google
// Sheets backing store. Reads go through a short TTL cache; writes are
// batched and keyed by the row Timestamp via an index built once per
// write.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/tclam/worksheet/internal/model"
)

const (
	reviewSheet  = "Review"
	studentSheet = "學生資料"

	// aiMarker prefixes AI candidate sentences in some upstream form
	// variants; it is stripped on read.
	aiMarker = "★"
)

// Review sheet column headers.
const (
	colTimestamp = "Timestamp"
	colSchool    = "學校"
	colLevel     = "年級"
	colWord      = "詞語"
	colSentence  = "句子"
	colSource    = "來源"
	colStatus    = "狀態"
)

// Student sheet column headers.
const (
	colStudentName  = "學生姓名"
	colParentEmail  = "家長 Email"
	colTeacherEmail = "老師 Email"
)

// ErrEmptySheet reports a sheet with no data rows.
var ErrEmptySheet = errors.New("sheet has no data rows")

// MissingColumnsError reports required headers absent from a sheet,
// listing the columns actually found to aid debugging.
type MissingColumnsError struct {
	Sheet   string
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("sheet %s missing columns %v (found %v)", e.Sheet, e.Missing, e.Found)
}

// Client reads and updates the review spreadsheet.
type Client struct {
	srv           *sheets.Service
	spreadsheetID string

	reviewCache  cached[[]model.ReviewRow]
	studentCache cached[[]model.Student]
}

// New connects to the spreadsheet with service account credentials.
func New(ctx context.Context, credentialsJSON []byte, spreadsheetID string, ttl time.Duration) (*Client, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to sheets API: %w", err)
	}
	c := &Client{srv: srv, spreadsheetID: spreadsheetID}
	c.reviewCache.ttl = ttl
	c.studentCache.ttl = ttl
	return c, nil
}

// ReviewRows returns all rows of the Review sheet, cached.
func (c *Client) ReviewRows(ctx context.Context) ([]model.ReviewRow, error) {
	return c.reviewCache.get(func() ([]model.ReviewRow, error) {
		values, err := c.fetch(ctx, reviewSheet)
		if err != nil {
			return nil, err
		}
		return ParseReviewRows(values)
	})
}

// ListPending returns Ready and Pending rows, optionally filtered by
// level and school. Loaded and Sent rows are excluded.
func (c *Client) ListPending(ctx context.Context, level, school string) ([]model.ReviewRow, error) {
	rows, err := c.ReviewRows(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ReviewRow
	for _, r := range rows {
		if !r.Status.Active() {
			continue
		}
		if level != "" && r.Level != level {
			continue
		}
		if school != "" && r.School != school {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Students returns the student roster, cached.
func (c *Client) Students(ctx context.Context) ([]model.Student, error) {
	return c.studentCache.get(func() ([]model.Student, error) {
		values, err := c.fetch(ctx, studentSheet)
		if err != nil {
			return nil, err
		}
		return ParseStudents(values)
	})
}

// Refresh drops the read caches so the next read hits the spreadsheet.
func (c *Client) Refresh() {
	c.reviewCache.invalidate()
	c.studentCache.invalidate()
}

// MarkRows advances the status of the rows with the given timestamps
// and optionally rewrites their chosen sentence. All cell updates go
// out in a single batch.
func (c *Client) MarkRows(ctx context.Context, timestamps []string, status model.Status, sentences map[string]string) error {
	values, err := c.fetch(ctx, reviewSheet)
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return ErrEmptySheet
	}

	cols, err := headerIndex(reviewSheet, values[0], []string{colTimestamp, colSentence, colStatus})
	if err != nil {
		return err
	}

	// Timestamp -> 1-based sheet row, built once per batch write.
	rowByKey := make(map[string]int, len(values)-1)
	for i, row := range values[1:] {
		ts := cellAt(row, cols[colTimestamp])
		if ts != "" {
			rowByKey[ts] = i + 2
		}
	}

	var data []*sheets.ValueRange
	for _, ts := range timestamps {
		rowNum, ok := rowByKey[ts]
		if !ok {
			return fmt.Errorf("review row %q not found", ts)
		}
		data = append(data, cellUpdate(reviewSheet, cols[colStatus], rowNum, string(status)))
		if s, ok := sentences[ts]; ok && s != "" {
			data = append(data, cellUpdate(reviewSheet, cols[colSentence], rowNum, s))
		}
	}
	if len(data) == 0 {
		return nil
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	if _, err := c.srv.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch update review rows: %w", err)
	}
	c.reviewCache.invalidate()
	return nil
}

// AppendCandidates adds AI candidate sentences for a word as Pending
// rows, one per sentence.
func (c *Client) AppendCandidates(ctx context.Context, school, level, word string, sentences []string) error {
	if len(sentences) == 0 {
		return nil
	}
	now := time.Now()
	var rows [][]any
	for i, s := range sentences {
		ts := fmt.Sprintf("%s-%d", now.Format("2006-01-02 15:04:05"), i+1)
		rows = append(rows, []any{ts, school, level, word, s, string(model.SourceAI), string(model.StatusPending)})
	}
	vr := &sheets.ValueRange{Values: rows}
	_, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, reviewSheet+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append candidates: %w", err)
	}
	c.reviewCache.invalidate()
	return nil
}

func (c *Client) fetch(ctx context.Context, sheetName string) ([][]any, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheetName+"!A1:Z").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheetName, err)
	}
	return resp.Values, nil
}

// ParseReviewRows converts raw sheet values (header row first) into
// review rows. Header matching is trimmed; the AI marker prefix is
// stripped from sentences.
func ParseReviewRows(values [][]any) ([]model.ReviewRow, error) {
	if len(values) == 0 {
		return nil, ErrEmptySheet
	}
	required := []string{colTimestamp, colSchool, colLevel, colWord, colSentence, colSource, colStatus}
	cols, err := headerIndex(reviewSheet, values[0], required)
	if err != nil {
		return nil, err
	}

	rows := make([]model.ReviewRow, 0, len(values)-1)
	for _, raw := range values[1:] {
		r := model.ReviewRow{
			Timestamp: cellAt(raw, cols[colTimestamp]),
			School:    cellAt(raw, cols[colSchool]),
			Level:     cellAt(raw, cols[colLevel]),
			Word:      cellAt(raw, cols[colWord]),
			Sentence:  strings.TrimPrefix(cellAt(raw, cols[colSentence]), aiMarker),
			Source:    model.Source(cellAt(raw, cols[colSource])),
			Status:    model.Status(cellAt(raw, cols[colStatus])),
		}
		if r.Timestamp == "" && r.Word == "" {
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// ParseStudents converts raw roster values into students. Only rows
// with 狀態 = Y are active.
func ParseStudents(values [][]any) ([]model.Student, error) {
	if len(values) == 0 {
		return nil, ErrEmptySheet
	}
	required := []string{colSchool, colLevel, colStatus, colStudentName, colParentEmail}
	cols, err := headerIndex(studentSheet, values[0], required)
	if err != nil {
		return nil, err
	}
	teacherCol := indexOf(values[0], colTeacherEmail)

	students := make([]model.Student, 0, len(values)-1)
	for _, raw := range values[1:] {
		s := model.Student{
			School:      cellAt(raw, cols[colSchool]),
			Level:       cellAt(raw, cols[colLevel]),
			Name:        cellAt(raw, cols[colStudentName]),
			ParentEmail: cellAt(raw, cols[colParentEmail]),
			Active:      cellAt(raw, cols[colStatus]) == "Y",
		}
		if teacherCol >= 0 {
			s.TeacherEmail = cellAt(raw, teacherCol)
		}
		if s.Name == "" {
			continue
		}
		students = append(students, s)
	}
	return students, nil
}

// Match returns the active students for one school+level combination.
func Match(students []model.Student, school, level string) []model.Student {
	var out []model.Student
	for _, s := range students {
		if s.Active && s.School == school && s.Level == level {
			out = append(out, s)
		}
	}
	return out
}

func headerIndex(sheetName string, header []any, required []string) (map[string]int, error) {
	found := make([]string, 0, len(header))
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(fmt.Sprint(h))
		if name == "" {
			continue
		}
		found = append(found, name)
		if _, ok := idx[name]; !ok {
			idx[name] = i
		}
	}
	var missing []string
	for _, r := range required {
		if _, ok := idx[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Sheet: sheetName, Missing: missing, Found: found}
	}
	return idx, nil
}

func indexOf(header []any, name string) int {
	for i, h := range header {
		if strings.TrimSpace(fmt.Sprint(h)) == name {
			return i
		}
	}
	return -1
}

func cellAt(row []any, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

func cellUpdate(sheetName string, col, row int, value string) *sheets.ValueRange {
	return &sheets.ValueRange{
		Range:  fmt.Sprintf("%s!%s%d", sheetName, colLetter(col), row),
		Values: [][]any{{value}},
	}
}

// colLetter converts a 0-based column index to its A1 letter form,
// correct past column Z.
func colLetter(i int) string {
	s := ""
	n := i + 1
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}
