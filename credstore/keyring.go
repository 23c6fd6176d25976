package credstore

import (
	"encoding/json"

	"github.com/zalando/go-keyring"
)

// serviceName is the keyring "service" field shared by every entry; the
// "account" field is the provider id (§4.5, §6: "one entry per
// service=<app>, account=<provider_id>").
const serviceName = "ttrpg-llm-core"

// KeyringStore backs credentials with the OS-native secret store.
type KeyringStore struct{}

// NewKeyringStore constructs a KeyringStore.
func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func (k *KeyringStore) Get(providerID string) (Record, error) {
	raw, err := keyring.Get(serviceName, providerID)
	if err != nil {
		if err == keyring.ErrNotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (k *KeyringStore) Set(providerID string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, providerID, string(raw))
}

func (k *KeyringStore) Delete(providerID string) error {
	err := keyring.Delete(serviceName, providerID)
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}

// List is best-effort: the OS keyring API does not expose enumeration
// portably, so KeyringStore tracks nothing of its own and callers that
// need the id list keep it elsewhere (the config file's provider table).
func (k *KeyringStore) List() ([]string, error) {
	return nil, nil
}

// Available reports whether the OS keyring backend is usable on this
// machine, used by the Auto selector (§4.5).
func Available() bool {
	const probeAccount = "__availability_probe__"
	if err := keyring.Set(serviceName, probeAccount, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, probeAccount)
	return true
}
