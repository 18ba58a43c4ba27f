package config

import (
	"time"

	"github.com/spf13/viper"
)

// API keys, populated by InitConfig. Empty keys disable the matching source.
var (
	// GoogleBooksAPIKey is appended to Google Books requests when set
	GoogleBooksAPIKey string
	// VisionAPIKey enables the Google Cloud Vision stage
	VisionAPIKey string
	// ISBNdbAPIKey enables the ISBNdb metadata source
	ISBNdbAPIKey string
)

// Settings is a snapshot of everything the application wires at startup.
type Settings struct {
	Database    DatabaseSettings
	Uploads     UploadSettings
	Recognition RecognitionSettings
	Browser     BrowserSettings
	OCR         OCRSettings
	Server      ServerSettings
	Lending     LendingSettings
}

type DatabaseSettings struct {
	Driver string // "sqlite" or "mysql"
	DSN    string
}

type UploadSettings struct {
	Dir      string
	MaxBytes int64
}

type RecognitionSettings struct {
	BrowserTimeout     time.Duration
	APITimeout         time.Duration
	MaxBooksellerLinks int
	MaxReviewLinks     int
	MetadataMerge      bool
}

type BrowserSettings struct {
	Enabled   bool
	Headless  bool
	ExecPath  string
	UserAgent string
}

type OCRSettings struct {
	Languages     string
	TesseractPath string
}

type ServerSettings struct {
	Addr           string
	Mode           string // "dev" or "release"
	AllowedOrigins []string
}

type LendingSettings struct {
	DefaultDueDays int
}

// SetDefaults registers default values for every key the application reads.
func SetDefaults() {
	viper.SetDefault("log.level", "info")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./librarian.db")

	viper.SetDefault("uploads.dir", "./uploads")
	viper.SetDefault("uploads.max_bytes", 10*1024*1024)

	viper.SetDefault("recognition.browser_timeout", "25s")
	viper.SetDefault("recognition.api_timeout", "10s")
	viper.SetDefault("recognition.max_bookseller_links", 3)
	viper.SetDefault("recognition.max_review_links", 2)
	viper.SetDefault("recognition.metadata_merge", false)

	viper.SetDefault("browser.enabled", true)
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.exec_path", "")
	viper.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")

	viper.SetDefault("ocr.languages", "eng+spa")
	viper.SetDefault("ocr.tesseract_path", "tesseract")

	viper.SetDefault("server.addr", ":3000")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	viper.SetDefault("lending.default_due_days", 14)

	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl", "720h")
}

// InitConfig initializes the global configuration
func InitConfig() {
	SetDefaults()

	GoogleBooksAPIKey = viper.GetString("googlebooks.api_key")
	VisionAPIKey = viper.GetString("vision.api_key")
	ISBNdbAPIKey = viper.GetString("isbndb.api_key")
}

// Load returns the current settings from viper.
func Load() Settings {
	return Settings{
		Database: DatabaseSettings{
			Driver: viper.GetString("database.driver"),
			DSN:    viper.GetString("database.dsn"),
		},
		Uploads: UploadSettings{
			Dir:      viper.GetString("uploads.dir"),
			MaxBytes: viper.GetInt64("uploads.max_bytes"),
		},
		Recognition: RecognitionSettings{
			BrowserTimeout:     viper.GetDuration("recognition.browser_timeout"),
			APITimeout:         viper.GetDuration("recognition.api_timeout"),
			MaxBooksellerLinks: viper.GetInt("recognition.max_bookseller_links"),
			MaxReviewLinks:     viper.GetInt("recognition.max_review_links"),
			MetadataMerge:      viper.GetBool("recognition.metadata_merge"),
		},
		Browser: BrowserSettings{
			Enabled:   viper.GetBool("browser.enabled"),
			Headless:  viper.GetBool("browser.headless"),
			ExecPath:  viper.GetString("browser.exec_path"),
			UserAgent: viper.GetString("browser.user_agent"),
		},
		OCR: OCRSettings{
			Languages:     viper.GetString("ocr.languages"),
			TesseractPath: viper.GetString("ocr.tesseract_path"),
		},
		Server: ServerSettings{
			Addr:           viper.GetString("server.addr"),
			Mode:           viper.GetString("server.mode"),
			AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
		},
		Lending: LendingSettings{
			DefaultDueDays: viper.GetInt("lending.default_due_days"),
		},
	}
}
