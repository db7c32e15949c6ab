package fileHandlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"serverlist-backend/internal/database"
	"serverlist-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	putURLExpiry    = time.Hour
	deleteURLExpiry = time.Minute
)

// ErrStorage wraps every failure talking to object storage.
var ErrStorage = errors.New("object storage request failed")

type Store interface {
	FileByHash(ctx context.Context, hash string) (*models.File, error)
	InsertFile(ctx context.Context, file models.File) error
	DeleteFile(ctx context.Context, hash string) error
}

// Uploader stores content addressed files, identical bytes are only ever
// uploaded once.
type Uploader struct {
	sugar   *zap.SugaredLogger
	store   Store
	storage ObjectStorage
	client  *http.Client

	locks hashLocks
}

// hashLocks serializes uploads of the same bytes while different files
// upload in parallel.
type hashLocks struct {
	mutex sync.Mutex
	held  map[string]*hashLock
}

type hashLock struct {
	sync.Mutex
	waiters int
}

func (l *hashLocks) lock(hash string) (unlock func()) {
	l.mutex.Lock()
	if l.held == nil {
		l.held = make(map[string]*hashLock)
	}
	entry, ok := l.held[hash]
	if !ok {
		entry = &hashLock{}
		l.held[hash] = entry
	}
	entry.waiters++
	l.mutex.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()

		l.mutex.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(l.held, hash)
		}
		l.mutex.Unlock()
	}
}

func NewUploader(sugar *zap.SugaredLogger, store Store, storage ObjectStorage, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Uploader{
		sugar:   sugar,
		store:   store,
		storage: storage,
		client:  client,
	}
}

func Hash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// Upload returns the existing record when the same bytes were uploaded
// before, otherwise it puts them under uploads/<uuid><ext>.
func (u *Uploader) Upload(ctx context.Context, content []byte, filename string) (*models.File, error) {
	hash := Hash(content)

	unlock := u.locks.lock(hash)
	defer unlock()

	existing, err := u.store.FileByHash(ctx, hash)
	if err == nil {
		u.sugar.Debugf("File with hash [%s] already exists", hash)
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	object := "uploads/" + uuid.NewString() + FileExtension(filename)

	putURL, err := u.storage.PresignPut(ctx, object, putURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("%w: presign put %s: %w", ErrStorage, object, err)
	}

	if err := u.send(ctx, http.MethodPut, putURL.String(), content); err != nil {
		return nil, err
	}

	file := models.File{
		HashValue: hash,
		FilePath:  u.storage.ObjectURL(object),
	}
	if err := u.store.InsertFile(ctx, file); err != nil {
		return nil, err
	}

	u.sugar.Debugf("Uploaded file with hash [%s] as [%s]", hash, object)
	return &file, nil
}

// Delete removes the object behind hash and then its files row.
func (u *Uploader) Delete(ctx context.Context, hash string) error {
	file, err := u.store.FileByHash(ctx, hash)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	object := strings.TrimPrefix(file.FilePath, u.storage.ObjectURL(""))

	deleteURL, err := u.storage.PresignDelete(ctx, object, deleteURLExpiry)
	if err != nil {
		return fmt.Errorf("%w: presign delete %s: %w", ErrStorage, object, err)
	}

	if err := u.send(ctx, http.MethodDelete, deleteURL.String(), nil); err != nil {
		return err
	}

	return u.store.DeleteFile(ctx, hash)
}

func (u *Uploader) send(ctx context.Context, method string, url string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorage, method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			u.sugar.Error(err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", ErrStorage, method, resp.StatusCode)
	}
	return nil
}
