package dbcapabilities

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ConnectionDetails holds parsed connection information
type ConnectionDetails struct {
	DatabaseType DatabaseID        `json:"database_type"`
	Kind         Kind              `json:"kind"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Hosts        []string          `json:"hosts,omitempty"`
	Username     string            `json:"username"`
	Password     string            `json:"password"`
	DatabaseName string            `json:"database_name"`
	SRV          bool              `json:"srv,omitempty"`
	SSL          bool              `json:"ssl"`
	SSLMode      string            `json:"ssl_mode"`
	Parameters   map[string]string `json:"parameters"`
	IsSystemDB   bool              `json:"is_system_db"`
}

// ParseConnectionString parses a backend URI and returns connection details.
//
// Multi-host lists ("mongodb://a:1,b:2/db", "kafka://b1:9092,b2:9092") are
// returned in Hosts; Host/Port always describe the first entry.
func ParseConnectionString(connectionString string) (*ConnectionDetails, error) {
	if strings.TrimSpace(connectionString) == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}

	schemeEnd := strings.Index(connectionString, "://")
	if schemeEnd <= 0 {
		return nil, fmt.Errorf("connection string must include a scheme (e.g., postgresql://)")
	}
	scheme := strings.ToLower(connectionString[:schemeEnd])

	dbType, ok := ParseID(scheme)
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", scheme)
	}
	capability := MustGet(dbType)

	// url.Parse rejects comma separated host lists, so parse the first host
	// and keep the raw list aside.
	rest := connectionString[schemeEnd+3:]
	authority := rest
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority = rest[:i]
	}
	userInfo, hostList := "", authority
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userInfo, hostList = authority[:at+1], authority[at+1:]
	}
	rawHosts := strings.Split(hostList, ",")
	single := scheme + "://" + userInfo + rawHosts[0] + rest[len(authority):]

	parsedURL, err := url.Parse(single)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string format: %v", err)
	}

	details := &ConnectionDetails{
		DatabaseType: dbType,
		Kind:         capability.Kind,
		SRV:          scheme == "mongodb+srv",
		Parameters:   make(map[string]string),
	}

	if parsedURL.Hostname() == "" {
		return nil, fmt.Errorf("host is required in connection string")
	}
	details.Host = parsedURL.Hostname()

	switch {
	case parsedURL.Port() != "":
		port, err := strconv.Atoi(parsedURL.Port())
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port number: %s", parsedURL.Port())
		}
		details.Port = port
	case details.SRV:
		// SRV records carry the port.
	default:
		details.Port = capability.DefaultPort
	}

	for _, h := range rawHosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(h); err != nil && !details.SRV {
			h = net.JoinHostPort(h, strconv.Itoa(capability.DefaultPort))
		}
		details.Hosts = append(details.Hosts, h)
	}

	if parsedURL.User != nil {
		details.Username = parsedURL.User.Username()
		if password, hasPassword := parsedURL.User.Password(); hasPassword {
			details.Password = password
		}
	}

	path := strings.Trim(parsedURL.Path, "/")
	if path != "" {
		details.DatabaseName = path
	}

	switch dbType {
	case Redis:
		if details.DatabaseName == "" {
			details.DatabaseName = "0"
		}
		if _, err := strconv.Atoi(details.DatabaseName); err != nil {
			return nil, fmt.Errorf("redis database must be a numeric index, got %q", details.DatabaseName)
		}
	case Kafka:
		if details.DatabaseName != "" {
			return nil, fmt.Errorf("kafka connection strings do not carry a database")
		}
	default:
		if details.DatabaseName == "" && capability.HasSystemDatabase {
			details.DatabaseName = capability.SystemDatabases[0]
		}
	}
	details.IsSystemDB = isSystemDatabase(details.DatabaseName, capability.SystemDatabases)

	queryParams := parsedURL.Query()
	for key, values := range queryParams {
		if len(values) > 0 {
			details.Parameters[key] = values[0]
		}
	}

	switch dbType {
	case PostgreSQL:
		parsePostgreSQLSSL(details, queryParams)
	case MongoDB:
		parseMongoDBSSL(details, queryParams)
	case Redis:
		parseRedisSSL(details, scheme, queryParams)
	default:
		parseDefaultSSL(details, queryParams)
	}

	return details, nil
}

// parsePostgreSQLSSL handles PostgreSQL-specific SSL parameters
func parsePostgreSQLSSL(details *ConnectionDetails, queryParams url.Values) {
	sslMode := queryParams.Get("sslmode")
	if sslMode == "" {
		sslMode = "prefer"
	}

	details.SSLMode = sslMode
	details.SSL = sslMode != "disable"
}

// parseMongoDBSSL handles MongoDB-specific SSL parameters
func parseMongoDBSSL(details *ConnectionDetails, queryParams url.Values) {
	tls := queryParams.Get("tls")
	ssl := queryParams.Get("ssl") // legacy

	switch {
	case tls != "":
		details.SSL = tls == "true"
	case ssl != "":
		details.SSL = ssl == "true"
	default:
		// mongodb+srv implies TLS unless told otherwise.
		details.SSL = details.SRV
	}

	details.SSLMode = "disable"
	if details.SSL {
		details.SSLMode = "require"
		if queryParams.Get("tlsInsecure") == "true" {
			details.SSLMode = "prefer"
		}
	}
}

// parseRedisSSL handles Redis-specific SSL parameters
func parseRedisSSL(details *ConnectionDetails, scheme string, queryParams url.Values) {
	details.SSL = scheme == "rediss" || queryParams.Get("ssl") == "true"
	details.SSLMode = "disable"
	if details.SSL {
		details.SSLMode = "require"
	}
}

func parseDefaultSSL(details *ConnectionDetails, queryParams url.Values) {
	details.SSL = queryParams.Get("ssl") == "true" || queryParams.Get("tls") == "true"
	details.SSLMode = "disable"
	if details.SSL {
		details.SSLMode = "require"
	}
}

// ValidateConnectionString validates a connection string without keeping the result.
func ValidateConnectionString(connectionString string) error {
	_, err := ParseConnectionString(connectionString)
	return err
}
