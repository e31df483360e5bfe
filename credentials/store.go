package credentials

// Store persists a single credential record of one scheme. It has no error
// conditions: a storage failure reads as absence, which sends the caller back
// to authentication. Set replaces the record as a whole, readers observe
// either the old record or the new one. Setting an incomplete record clears
// the store.
type Store[T Record] interface {
	Get() (*T, bool)
	Set(credential T)
	Clear()
}

// Namespaces used by persistent stores. Staff and patient records never share one.
const (
	NamespaceStaff   = "staff"
	NamespacePatient = "patient"
)
