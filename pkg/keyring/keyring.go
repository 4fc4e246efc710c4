package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no secret is stored under a service/user pair.
var ErrNotFound = errors.New("secret not found in keyring")

// Store is the secret storage used by the connection registry.
type Store interface {
	Set(service, user, secret string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// FileKeyring implements an AES-GCM encrypted file keyring for machines
// without a usable system keyring.
type FileKeyring struct {
	mu          sync.Mutex
	keyringPath string
	masterKey   []byte
}

// KeyringEntry represents a stored keyring entry
type KeyringEntry struct {
	Service string `json:"service"`
	User    string `json:"user"`
	Data    string `json:"data"` // encrypted
}

// KeyringManager uses the system keyring when available and falls back to a FileKeyring.
type KeyringManager struct {
	fileKeyring *FileKeyring
	useFile     bool
}

// probeTimeout bounds the system keyring availability check; some desktop
// sessions block on an unlock prompt.
const probeTimeout = 5 * time.Second

// NewKeyringManager creates a keyring manager that tries the system keyring first.
func NewKeyringManager(keyringPath, masterPassword string) *KeyringManager {
	const testService, testKey = "redb-desk-probe", "probe"

	done := make(chan error, 1)
	go func() {
		err := keyring.Set(testService, testKey, "probe")
		if err == nil {
			_ = keyring.Delete(testService, testKey)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return &KeyringManager{useFile: false}
		}
	case <-time.After(probeTimeout):
	}

	return NewFileKeyringManager(keyringPath, masterPassword)
}

// NewFileKeyringManager always uses the encrypted file keyring.
func NewFileKeyringManager(keyringPath, masterPassword string) *KeyringManager {
	return &KeyringManager{
		fileKeyring: NewFileKeyring(keyringPath, masterPassword),
		useFile:     true,
	}
}

// UsesFile reports whether secrets go to the file fallback.
func (km *KeyringManager) UsesFile() bool {
	return km.useFile
}

// NewFileKeyring creates a new file-based keyring
func NewFileKeyring(keyringPath, masterPassword string) *FileKeyring {
	_ = os.MkdirAll(filepath.Dir(keyringPath), 0o700)

	hash := sha256.Sum256([]byte(masterPassword))

	return &FileKeyring{
		keyringPath: keyringPath,
		masterKey:   hash[:],
	}
}

// Set stores a value in the keyring (system or file)
func (km *KeyringManager) Set(service, user, secret string) error {
	if !km.useFile {
		return keyring.Set(service, user, secret)
	}
	return km.fileKeyring.Set(service, user, secret)
}

// Get retrieves a value from the keyring (system or file)
func (km *KeyringManager) Get(service, user string) (string, error) {
	if !km.useFile {
		s, err := keyring.Get(service, user)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return s, err
	}
	return km.fileKeyring.Get(service, user)
}

// Delete removes a value from the keyring. Deleting a missing entry is not an error.
func (km *KeyringManager) Delete(service, user string) error {
	if !km.useFile {
		err := keyring.Delete(service, user)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return km.fileKeyring.Delete(service, user)
}

func (fk *FileKeyring) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(fk.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (fk *FileKeyring) encrypt(plaintext string) (string, error) {
	gcm, err := fk.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (fk *FileKeyring) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := fk.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt keyring entry: %w", err)
	}

	return string(plaintext), nil
}

func (fk *FileKeyring) load() (map[string]KeyringEntry, error) {
	entries := make(map[string]KeyringEntry)
	data, err := os.ReadFile(fk.keyringPath)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt keyring file: %w", err)
	}
	return entries, nil
}

func (fk *FileKeyring) save(entries map[string]KeyringEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(fk.keyringPath, data, 0o600)
}

func entryKey(service, user string) string {
	return fmt.Sprintf("%s:%s", service, user)
}

// Set stores an entry in the file keyring
func (fk *FileKeyring) Set(service, user, secret string) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	entries, err := fk.load()
	if err != nil {
		return err
	}

	encrypted, err := fk.encrypt(secret)
	if err != nil {
		return err
	}

	entries[entryKey(service, user)] = KeyringEntry{
		Service: service,
		User:    user,
		Data:    encrypted,
	}
	return fk.save(entries)
}

// Get retrieves an entry from the file keyring
func (fk *FileKeyring) Get(service, user string) (string, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	entries, err := fk.load()
	if err != nil {
		return "", err
	}

	entry, exists := entries[entryKey(service, user)]
	if !exists {
		return "", ErrNotFound
	}
	return fk.decrypt(entry.Data)
}

// Delete removes an entry from the file keyring
func (fk *FileKeyring) Delete(service, user string) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	entries, err := fk.load()
	if err != nil {
		return err
	}
	key := entryKey(service, user)
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return fk.save(entries)
}

// GetMasterPasswordFromEnv gets the file keyring password from the environment.
func GetMasterPasswordFromEnv() string {
	if password := os.Getenv("REDB_DESK_KEYRING_PASSWORD"); password != "" {
		return password
	}
	// Development default; set REDB_DESK_KEYRING_PASSWORD on shared machines.
	return "redb-desk-default-master-password"
}

// GetDefaultKeyringPath returns the default keyring file path
func GetDefaultKeyringPath() string {
	if path := os.Getenv("REDB_DESK_KEYRING_PATH"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "redb-desk-keyring.json")
	}
	return filepath.Join(homeDir, ".local", "share", "redb-desk", "keyring.json")
}
