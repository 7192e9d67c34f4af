package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/tclam/worksheet/internal/fonts"
	"github.com/tclam/worksheet/internal/handler"
	appI18n "github.com/tclam/worksheet/internal/i18n"
	"github.com/tclam/worksheet/internal/llm"
	"github.com/tclam/worksheet/internal/mailer"
	"github.com/tclam/worksheet/internal/model"
	"github.com/tclam/worksheet/internal/render"
	"github.com/tclam/worksheet/internal/sheet"
	"github.com/tclam/worksheet/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "worksheet",
		Short: "Admin service for school fill-in worksheet review and distribution",
	}

	serve := serveCmd()
	root.AddCommand(serve, renderCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `worksheet --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP admin server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "worksheet.db", "SQLite database path")
	f.String("spreadsheet-id", "", "Google Sheets spreadsheet ID (required)")
	f.String("credentials", "credentials.json", "Path to Google service account credentials JSON")
	f.Duration("cache-ttl", 60*time.Second, "Spreadsheet read cache TTL (0 disables caching)")
	f.StringSlice("font", nil, "Paths to CJK TTF font files, tried in order (repeatable)")
	f.String("sendgrid-key", "", "SendGrid API key")
	f.String("from-email", "", "Sender email address (required)")
	f.String("from-name", "中文工作紙", "Sender display name")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables suggestions)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.StringP("lang", "l", "zh-Hant", "Message language (zh-Hant, en)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set WORKSHEET_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a locked batch to a file without serving",
		RunE:  runRender,
	}
	f := cmd.Flags()
	f.String("db", "worksheet.db", "SQLite database path")
	f.String("batch", "", "Batch ID to render (required)")
	f.String("variant", "student", "Worksheet variant (student, teacher)")
	f.String("format", "pdf", "Output format (pdf, rtf)")
	f.StringSlice("font", nil, "Paths to CJK TTF font files, tried in order (repeatable)")
	f.StringP("output", "o", "", "Output file path (default derived from batch)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("WORKSHEET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("worksheet")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/worksheet")
	v.AddConfigPath("/etc/worksheet")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newRenderer(fontPaths []string) (*render.Renderer, error) {
	font := fonts.FromPaths(fontPaths)
	return render.New(font)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	spreadsheetID := v.GetString("spreadsheet-id")
	if spreadsheetID == "" {
		return fmt.Errorf("spreadsheet ID is required: set --spreadsheet-id flag or WORKSHEET_SPREADSHEET_ID env var")
	}
	fromEmail := v.GetString("from-email")
	if fromEmail == "" {
		return fmt.Errorf("sender email is required: set --from-email flag or WORKSHEET_FROM_EMAIL env var")
	}

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Connect to the review spreadsheet.
	creds, err := os.ReadFile(v.GetString("credentials"))
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	sheets, err := sheet.New(ctx, creds, spreadsheetID, v.GetDuration("cache-ttl"))
	if err != nil {
		return fmt.Errorf("connect to spreadsheet: %w", err)
	}

	renderer, err := newRenderer(v.GetStringSlice("font"))
	if err != nil {
		return fmt.Errorf("load fonts: %w", err)
	}

	sender := mailer.New(v.GetString("sendgrid-key"), fromEmail, v.GetString("from-name"))

	// LLM suggestions are optional.
	var suggester handler.Suggester
	if llmURL := v.GetString("llm-url"); llmURL != "" {
		suggester = llm.New(llmURL, v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("sentence suggestion enabled", "url", llmURL, "model", v.GetString("llm-model"))
	}

	h := handler.New(db, sheets, sender, suggester, renderer, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"spreadsheet", spreadsheetID,
		"lang", lang,
		"cache_ttl", v.GetDuration("cache-ttl"),
		"suggestions", suggester != nil,
	)
	return http.ListenAndServe(addr, r)
}

func runRender(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	b, err := db.GetBatch(v.GetString("batch"))
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if b == nil {
		return fmt.Errorf("batch %q not found", v.GetString("batch"))
	}

	variant := render.Student
	switch strings.ToLower(v.GetString("variant")) {
	case "student":
	case "teacher":
		variant = render.Teacher
	default:
		return fmt.Errorf("invalid variant %q (student, teacher)", v.GetString("variant"))
	}

	format := strings.ToLower(v.GetString("format"))
	var data []byte
	switch format {
	case "pdf":
		renderer, err := newRenderer(v.GetStringSlice("font"))
		if err != nil {
			return fmt.Errorf("load fonts: %w", err)
		}
		data, err = renderer.PDF(*b, "", variant)
		if err != nil {
			return fmt.Errorf("render PDF: %w", err)
		}
	case "rtf":
		data = render.RTF(*b, "", variant)
	default:
		return fmt.Errorf("invalid format %q (pdf, rtf)", format)
	}

	outPath := v.GetString("output")
	if outPath == "" {
		outPath = render.Filename(b.School, b.Level, "", format, time.Now())
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("rendered batch", "batch", b.ID, "format", format, "path", outPath, "bytes", len(data))
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or WORKSHEET_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		PasswordHash: string(hash),
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
