package config

const (
	credentialStoreVar      = "CREDENTIAL_STORE"
	credentialDBPathVar     = "CREDENTIAL_DB_PATH"
	credentialPassphraseVar = "CREDENTIAL_PASSPHRASE"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type StorageConfig interface {
	GetCredentialStore() string
	GetCredentialDBPath() string
	GetCredentialPassphrase() string
}

type Storage struct {
	file *FileSettings
}

var _ StorageConfig = Storage{}

// GetCredentialStore returns "memory" or "sqlite"
func (s Storage) GetCredentialStore() string {
	if v := lookup(credentialStoreVar, s.file.Credentials.Store, StoreSQLite); v == StoreMemory {
		return StoreMemory
	}
	return StoreSQLite
}

func (s Storage) GetCredentialDBPath() string {
	return lookup(credentialDBPathVar, s.file.Credentials.DBPath, "./data/credentials.db")
}

// GetCredentialPassphrase enables at-rest sealing of persisted credentials when set
func (s Storage) GetCredentialPassphrase() string {
	return lookup(credentialPassphraseVar, s.file.Credentials.Passphrase, "")
}
