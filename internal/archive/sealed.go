package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"dms-go/internal/dms"
)

// Sealed encrypts objects with an Encryptor before handing them to the
// underlying archive. Reading them back needs Open and an unlocked key.
type Sealed struct {
	inner dms.Archive
	enc   dms.Encryptor
}

var _ dms.Archive = (*Sealed)(nil)

func NewSealed(inner dms.Archive, enc dms.Encryptor) *Sealed {
	return &Sealed{inner: inner, enc: enc}
}

func (s *Sealed) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	var sealed bytes.Buffer
	counter := &countingReader{r: r}
	if err := s.enc.Encrypt(counter, &sealed); err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return s.inner.Put(ctx, key, &sealed, int64(sealed.Len()))
}

// Get returns the sealed bytes unchanged.
func (s *Sealed) Get(ctx context.Context, key string, w io.Writer) error {
	return s.inner.Get(ctx, key, w)
}

func (s *Sealed) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Open fetches key from a and decrypts it into w.
func Open(ctx context.Context, a dms.Archive, key string, dc dms.DecryptionContext, w io.Writer) error {
	var sealed bytes.Buffer
	if err := a.Get(ctx, key, &sealed); err != nil {
		return err
	}
	if err := dc.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("opening %s: %w", key, err)
	}
	return nil
}
