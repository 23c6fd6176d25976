package credstore

// NewAuto picks the keyring backend if available on this machine, else
// falls back to the file backend at path (§4.5 "auto selector").
func NewAuto(filePath string) Store {
	if Available() {
		return NewKeyringStore()
	}
	return NewFileStore(filePath)
}
