// Package settings persists the operator-configured integration settings
// (hotel API key, payment secrets, SMTP credentials) with every secret
// field encrypted at rest.
//
// Values that predate encryption are read as legacy plaintext and sealed on
// the next Save. A stored value that looks encrypted but fails to decrypt is
// reported in Settings.Unusable and left empty, never returned as garbage.
package settings

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/tripauth/internal/fsutil"
	"github.com/MrEthical07/tripauth/secret"
)

// Settings is the decrypted view of the operator configuration.
type Settings struct {
	HotelAPIKey          string `yaml:"hotel_api_key" json:"hotel_api_key"`
	PaymentSecretKey     string `yaml:"payment_secret_key" json:"payment_secret_key"`
	PaymentWebhookSecret string `yaml:"payment_webhook_secret" json:"payment_webhook_secret"`
	SMTPHost             string `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort             int    `yaml:"smtp_port" json:"smtp_port"`
	SMTPUser             string `yaml:"smtp_user" json:"smtp_user"`
	SMTPPassword         string `yaml:"smtp_password" json:"smtp_password"`
	FromAddress          string `yaml:"from_address" json:"from_address"`

	// Unusable names the secret fields whose stored value failed to decrypt.
	Unusable []string `yaml:"-" json:"unusable,omitempty"`
}

// secretFields returns pointers to every encrypted field keyed by its
// serialized name.
func (s *Settings) secretFields() []namedField {
	return []namedField{
		{"hotel_api_key", &s.HotelAPIKey},
		{"payment_secret_key", &s.PaymentSecretKey},
		{"payment_webhook_secret", &s.PaymentWebhookSecret},
		{"smtp_password", &s.SMTPPassword},
	}
}

type namedField struct {
	name  string
	value *string
}

// Masked returns a copy safe to display: every non-empty secret is replaced
// by a fixed redaction, with the last two characters of long values.
func (s Settings) Masked() Settings {
	out := s
	out.Unusable = append([]string(nil), s.Unusable...)
	for _, f := range out.secretFields() {
		*f.value = mask(*f.value)
	}
	return out
}

// mask keeps at most the last two characters, and only of values long
// enough that two characters say nothing useful.
func mask(v string) string {
	switch {
	case v == "":
		return ""
	case len(v) < 16:
		return "****"
	default:
		return "****" + v[len(v)-2:]
	}
}

// Update lists the fields a Save may change. Nil fields keep their stored
// value.
type Update struct {
	HotelAPIKey          *string `json:"hotel_api_key,omitempty"`
	PaymentSecretKey     *string `json:"payment_secret_key,omitempty"`
	PaymentWebhookSecret *string `json:"payment_webhook_secret,omitempty"`
	SMTPHost             *string `json:"smtp_host,omitempty"`
	SMTPPort             *int    `json:"smtp_port,omitempty"`
	SMTPUser             *string `json:"smtp_user,omitempty"`
	SMTPPassword         *string `json:"smtp_password,omitempty"`
	FromAddress          *string `json:"from_address,omitempty"`
}

// Apply copies the set fields of u onto s.
func (u Update) Apply(s *Settings) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&s.HotelAPIKey, u.HotelAPIKey)
	setString(&s.PaymentSecretKey, u.PaymentSecretKey)
	setString(&s.PaymentWebhookSecret, u.PaymentWebhookSecret)
	setString(&s.SMTPHost, u.SMTPHost)
	setString(&s.SMTPUser, u.SMTPUser)
	setString(&s.SMTPPassword, u.SMTPPassword)
	setString(&s.FromAddress, u.FromAddress)
	if u.SMTPPort != nil {
		s.SMTPPort = *u.SMTPPort
	}
}

// ErrInvalid is returned by Save for out-of-range values.
var ErrInvalid = errors.New("invalid settings")

// Store reads and writes the settings file.
type Store struct {
	path   string
	cipher *secret.Cipher
	logger *slog.Logger

	mu sync.Mutex
}

// NewStore returns a Store for the YAML file at path.
func NewStore(path string, cipher *secret.Cipher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, cipher: cipher, logger: logger}
}

// Load reads and decrypts the settings. A missing file yields zero Settings.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked(ctx)
}

// Save applies u to the stored settings, encrypts every secret field and
// writes the file atomically. Legacy plaintext values are sealed as part of
// the write. It returns the decrypted result.
func (s *Store) Save(ctx context.Context, u Update) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked(ctx)
	if err != nil {
		return Settings{}, err
	}
	u.Apply(&current)
	if current.SMTPPort < 0 || current.SMTPPort > 65535 {
		return Settings{}, oops.Code("SETTINGS_INVALID").With("smtp_port", current.SMTPPort).Wrap(ErrInvalid)
	}

	sealed := current
	sealed.Unusable = nil
	for _, f := range sealed.secretFields() {
		enc, err := s.cipher.Encrypt(*f.value)
		if err != nil {
			return Settings{}, oops.Code("SETTINGS_ENCRYPT_FAILED").With("field", f.name).Wrap(err)
		}
		*f.value = enc
	}

	data, err := yaml.Marshal(&sealed)
	if err != nil {
		return Settings{}, oops.Code("SETTINGS_ENCODE_FAILED").Wrap(err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return Settings{}, oops.Code("SETTINGS_WRITE_FAILED").With("path", s.path).Wrap(err)
	}

	// Fields that were unusable and not replaced stay empty.
	current.Unusable = nil
	return current, nil
}

func (s *Store) loadLocked(ctx context.Context) (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, oops.Code("SETTINGS_READ_FAILED").With("path", s.path).Wrap(err)
	}

	var out Settings
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Settings{}, oops.Code("SETTINGS_CORRUPT").With("path", s.path).Wrap(err)
	}

	for _, f := range out.secretFields() {
		plain, err := s.cipher.Decrypt(*f.value)
		if err != nil {
			s.logger.WarnContext(ctx, "stored secret is unusable",
				"field", f.name,
				"path", s.path,
				"error", err,
			)
			out.Unusable = append(out.Unusable, f.name)
			*f.value = ""
			continue
		}
		*f.value = plain
	}

	return out, nil
}
