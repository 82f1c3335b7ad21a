package pdr

// Codec converts both record collections to and from the transportable archive payload.
type Codec interface {
	// Encode serializes exports and erasures into one text-safe document.
	Encode(exports, erasures []Record) ([]byte, error)

	// Decode reverses Encode. Entries that cannot be read as records are returned
	// separately as per-record failures instead of failing the whole document.
	Decode(data []byte) (*Archive, []*StoreError, error)
}

// Container packages an encoded payload inside a compressed single-entry file.
type Container interface {
	// Name is the configuration name of the container, e.g. "zip".
	Name() string

	// Extension is the file extension including the dot, e.g. ".zip".
	Extension() string

	// Wrap stores payload as the single entry entryName.
	Wrap(entryName string, payload []byte) ([]byte, error)

	// Unwrap returns the payload of the single entry.
	Unwrap(data []byte) ([]byte, error)
}
