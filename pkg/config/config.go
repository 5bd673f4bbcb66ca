package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jhoicas/facturacion-afip/pkg/afip"
)

// Modos de operación AFIP.
const (
	ModeHomologation = "HOMOLOGATION"
	ModeProduction   = "PRODUCTION"
)

// Endpoints publicados por la autoridad.
const (
	WSAAURLHomologation = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	WSAAURLProduction   = "https://wsaa.afip.gov.ar/ws/services/LoginCms"
	WSFEURLHomologation = "https://wswhomo.afip.gov.ar/wsfev1/service.asmx"
	WSFEURLProduction   = "https://servicios1.afip.gov.ar/wsfev1/service.asmx"
)

// ErrInvalidConfig se devuelve envuelto por Validate.
var ErrInvalidConfig = errors.New("configuración inválida")

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App  AppConfig
	DB   DBConfig
	JWT  JWTConfig
	HTTP HTTPConfig
	AFIP AFIPConfig
}

// AFIPConfig configuración de los web services WSAA y WSFEv1.
type AFIPConfig struct {
	Mode          string // HOMOLOGATION | PRODUCTION
	CUIT          string // CUIT del emisor, solo dígitos
	CertPath      string // Certificado X.509 (.pem/.crt) o .p12
	KeyPath       string // Llave privada PEM (vacío si CertPath es .p12 o PEM combinado)
	KeyPassphrase string // Passphrase de la llave o contraseña del .p12
	WSAAURL       string
	WSFEURL       string
	TicketPath    string // Archivo del Credential Store (TA)
	Service       string // Servicio solicitado al WSAA; siempre "wsfe" para este núcleo
	Signer        string // native | openssl
	OpenSSLBin    string
	Timezone      string
	TicketMargin  time.Duration // Margen de seguridad de vencimiento del TA (mínimo 60 s)
	HTTPTimeout   time.Duration
}

// Location devuelve la zona horaria civil usada en el LoginTicketRequest.
// Si la base tzdata no está disponible se usa UTC-3 fijo.
func (c AFIPConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("ART", -3*60*60)
}

// IsProduction indica si se apunta a los endpoints productivos.
func (c AFIPConfig) IsProduction() bool {
	return strings.EqualFold(c.Mode, ModeProduction)
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, AFIP_CUIT, AFIP_CERT_PATH, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	mode := strings.ToUpper(getString(v, "AFIP_MODE", ModeHomologation))
	wsaaURL, wsfeURL := WSAAURLHomologation, WSFEURLHomologation
	if mode == ModeProduction {
		wsaaURL, wsfeURL = WSAAURLProduction, WSFEURLProduction
	}

	margin := time.Duration(getInt(v, "AFIP_TICKET_MARGIN_SECONDS", 60)) * time.Second
	if margin < 60*time.Second {
		margin = 60 * time.Second
	}
	timeout := time.Duration(getInt(v, "AFIP_HTTP_TIMEOUT_SECONDS", 30)) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "facturacion-afip"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "facturacion"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "facturacion-afip"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		AFIP: AFIPConfig{
			Mode:          mode,
			CUIT:          afip.ExtractDigits(getString(v, "AFIP_CUIT", "")),
			CertPath:      getString(v, "AFIP_CERT_PATH", ""),
			KeyPath:       getString(v, "AFIP_KEY_PATH", ""),
			KeyPassphrase: getString(v, "AFIP_KEY_PASSPHRASE", ""),
			WSAAURL:       getString(v, "AFIP_WSAA_URL", wsaaURL),
			WSFEURL:       getString(v, "AFIP_WSFE_URL", wsfeURL),
			TicketPath:    getString(v, "AFIP_TICKET_PATH", defaultTicketPath()),
			Service:       "wsfe",
			Signer:        strings.ToLower(getString(v, "AFIP_SIGNER", "native")),
			OpenSSLBin:    getString(v, "AFIP_OPENSSL_BIN", "openssl"),
			Timezone:      getString(v, "AFIP_TIMEZONE", "America/Argentina/Buenos_Aires"),
			TicketMargin:  margin,
			HTTPTimeout:   timeout,
		},
	}
}

// Validate verifica la configuración AFIP mínima antes de cualquier llamada de red.
func (c *Config) Validate() error {
	if c.AFIP.CUIT == "" {
		return fmt.Errorf("%w: AFIP_CUIT no configurado", ErrInvalidConfig)
	}
	if err := afip.ValidateCUIT(c.AFIP.CUIT); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.AFIP.CertPath == "" {
		return fmt.Errorf("%w: AFIP_CERT_PATH no configurado", ErrInvalidConfig)
	}
	switch c.AFIP.Mode {
	case ModeHomologation, ModeProduction:
	default:
		return fmt.Errorf("%w: AFIP_MODE desconocido %q (usar HOMOLOGATION o PRODUCTION)", ErrInvalidConfig, c.AFIP.Mode)
	}
	switch c.AFIP.Signer {
	case "native", "openssl":
	default:
		return fmt.Errorf("%w: AFIP_SIGNER desconocido %q (usar native u openssl)", ErrInvalidConfig, c.AFIP.Signer)
	}
	return nil
}

// defaultTicketPath ubica el TA en el directorio de configuración privado del usuario.
func defaultTicketPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "facturacion-afip", "ta-wsfe.xml")
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}
