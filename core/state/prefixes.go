package state

var (
	escrowPrefix   = []byte("custody/escrow/")
	poolPrefix     = []byte("custody/pool/")
	transferPrefix = []byte("custody/transfer/")
)

func prefixedKey(prefix []byte, id [32]byte) []byte {
	key := make([]byte, len(prefix)+len(id))
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}
