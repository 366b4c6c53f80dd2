// Package filestore keeps test data and answer files served to judge clients
// through signed download URLs.
package filestore

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"io"
)

const randIDLength = 12

var (
	// ErrNotFound is returned when a file id does not exist
	ErrNotFound = errors.New("filestore: file not found")

	errUniqueIDNotGenerated = errors.New("unique id does not exists after tried 50 times")
)

// FileStore defines interface to store file
type FileStore interface {
	Add(name string, content io.Reader) (string, error) // Add creates a file with name & content to the storage, returns id
	Open(id string) (string, io.ReadCloser, error)      // Open returns name and content, ErrNotFound if not exists
	Remove(id string) bool                              // Remove deletes a file by id
	List() map[string]string                            // List return all file ids with their names
}

func generateID() (string, error) {
	b := make([]byte, randIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := base32.NewEncoder(base32.StdEncoding, &buf).Write(b); err != nil {
		return "", err
	}
	return buf.String(), nil
}
