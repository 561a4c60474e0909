package encryption

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"dms-go/internal/dms"
)

// testEnvelope opens every archived message sealed by TestEncryptor.
const testEnvelope = "dms-test-sealed/1\n"

// TestEncryptor seals archived messages without key files, for archive and
// app tests. The sealed form is testEnvelope followed by the message with
// every byte inverted, so no header or body text of a sent mail is readable
// in the archive while opening it needs no key material.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase *string
}

var _ dms.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup remembers passphrase; Unlock then accepts only that passphrase.
func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = &passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(testEnvelope); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	if err := invert(r, bw); err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}
	return bw.Flush()
}

// Unlock accepts any passphrase before Setup.
func (e *TestEncryptor) Unlock(passphrase string) (dms.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != nil && passphrase != *e.passphrase {
		return nil, errors.New("incorrect passphrase")
	}
	return &TestDecryptionContext{}, nil
}

// IsConfigured is always true so a sealed archive can be wired without
// running keys init first.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext opens messages sealed by TestEncryptor.
type TestDecryptionContext struct{}

var _ dms.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil || line != testEnvelope {
		return errors.New("archived message was not sealed by the test encryptor")
	}
	bw := bufio.NewWriter(w)
	if err := invert(br, bw); err != nil {
		return fmt.Errorf("opening message: %w", err)
	}
	return bw.Flush()
}

func invert(r io.Reader, w io.Writer) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		for i := range buf[:n] {
			buf[i] = ^buf[i]
		}
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
