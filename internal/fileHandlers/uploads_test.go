package fileHandlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"serverlist-backend/internal/database"

	"go.uber.org/zap"
)

// fakeStorage signs nothing, it just points at a local bucket server.
type fakeStorage struct {
	server *httptest.Server

	mutex   sync.Mutex
	objects map[string][]byte
	puts    int

	// a put carrying held bytes signals started and waits for release
	held    []byte
	started chan struct{}
	release chan struct{}
}

func newFakeStorage(t *testing.T) *fakeStorage {
	t.Helper()

	fs := &fakeStorage{objects: make(map[string][]byte)}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		object := strings.TrimPrefix(r.URL.Path, "/bucket/")

		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		if r.Method == http.MethodPut && fs.held != nil && bytes.Equal(buf.Bytes(), fs.held) {
			fs.started <- struct{}{}
			<-fs.release
		}

		fs.mutex.Lock()
		defer fs.mutex.Unlock()

		switch r.Method {
		case http.MethodPut:
			fs.objects[object] = buf.Bytes()
			fs.puts++
		case http.MethodDelete:
			delete(fs.objects, object)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(fs.server.Close)

	return fs
}

func (fs *fakeStorage) PresignPut(_ context.Context, object string, _ time.Duration) (*url.URL, error) {
	return url.Parse(fs.ObjectURL(object) + "?X-Amz-Signature=put")
}

func (fs *fakeStorage) PresignDelete(_ context.Context, object string, _ time.Duration) (*url.URL, error) {
	return url.Parse(fs.ObjectURL(object) + "?X-Amz-Signature=delete")
}

func (fs *fakeStorage) ObjectURL(object string) string {
	return fs.server.URL + "/bucket/" + object
}

func newUploader(t *testing.T) (*Uploader, *fakeStorage, *database.Store) {
	t.Helper()

	sugar := zap.NewNop().Sugar()

	db, err := database.OpenSqlite(":memory:", sugar)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}

	store := database.NewStore(db)
	storage := newFakeStorage(t)

	return NewUploader(sugar, store, storage, storage.server.Client()), storage, store
}

func TestUploadDeduplicates(t *testing.T) {
	uploader, storage, _ := newUploader(t)
	ctx := context.Background()
	content := []byte("identical bytes")

	first, err := uploader.Upload(ctx, content, "a.png")
	if err != nil {
		t.Fatal(err)
	}
	second, err := uploader.Upload(ctx, content, "b.png")
	if err != nil {
		t.Fatal(err)
	}

	if first.HashValue != second.HashValue || first.FilePath != second.FilePath {
		t.Errorf("second upload returned %+v, want %+v", second, first)
	}
	if storage.puts != 1 {
		t.Errorf("object storage received %d puts, want 1", storage.puts)
	}
	if !strings.HasPrefix(first.FilePath, storage.ObjectURL("uploads/")) || !strings.HasSuffix(first.FilePath, ".png") {
		t.Errorf("FilePath = %q, want uploads/<uuid>.png under the bucket", first.FilePath)
	}
}

func TestUploadsOfDifferentFilesOverlap(t *testing.T) {
	uploader, storage, _ := newUploader(t)
	storage.held = []byte("slow upload")
	storage.started = make(chan struct{}, 1)
	storage.release = make(chan struct{})

	slowErr := make(chan error, 1)
	go func() {
		_, err := uploader.Upload(context.Background(), []byte("slow upload"), "slow.png")
		slowErr <- err
	}()
	<-storage.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := uploader.Upload(ctx, []byte("fast upload"), "fast.png"); err != nil {
		t.Errorf("upload during a pending put error = %v", err)
	}

	close(storage.release)
	if err := <-slowErr; err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentUploadsOfSameBytes(t *testing.T) {
	uploader, storage, _ := newUploader(t)
	content := []byte("popular image")

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, len(paths))
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file, err := uploader.Upload(context.Background(), content, "same.png")
			errs[i] = err
			if err == nil {
				paths[i] = file.FilePath
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("upload %d error = %v", i, err)
		}
		if paths[i] != paths[0] {
			t.Errorf("upload %d got %q, want %q", i, paths[i], paths[0])
		}
	}
	if storage.puts != 1 {
		t.Errorf("object storage received %d puts, want 1", storage.puts)
	}
	if len(uploader.locks.held) != 0 {
		t.Errorf("%d hash locks left after all uploads finished", len(uploader.locks.held))
	}
}

func TestDeleteRemovesObjectAndRow(t *testing.T) {
	uploader, storage, store := newUploader(t)
	ctx := context.Background()

	file, err := uploader.Upload(ctx, []byte("to be deleted"), "x.webp")
	if err != nil {
		t.Fatal(err)
	}

	if err := uploader.Delete(ctx, file.HashValue); err != nil {
		t.Fatal(err)
	}

	if len(storage.objects) != 0 {
		t.Errorf("%d objects left in storage, want 0", len(storage.objects))
	}
	if _, err := store.FileByHash(ctx, file.HashValue); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("FileByHash() error = %v, want ErrNotFound", err)
	}
}

func TestUploadStorageFailure(t *testing.T) {
	uploader, storage, _ := newUploader(t)
	storage.server.Close()

	_, err := uploader.Upload(context.Background(), []byte("anything"), "a.png")
	if !errors.Is(err, ErrStorage) {
		t.Errorf("Upload() error = %v, want ErrStorage", err)
	}
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		kind    ImageKind
		wantErr bool
	}{
		{name: "Valid: 16:9 cover", content: encodePNG(t, 1600, 900), kind: CoverImage},
		{name: "Valid: Square gallery image", content: encodePNG(t, 100, 100), kind: GalleryImage},
		{name: "Error: Square cover", content: encodePNG(t, 100, 100), kind: CoverImage, wantErr: true},
		{name: "Error: Not an image", content: []byte("hello world"), kind: GalleryImage, wantErr: true},
		{name: "Error: Too large", content: make([]byte, maxImageSize+1), kind: GalleryImage, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImage(tt.content, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateImage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{filename: "cover.png", want: ".png"},
		{filename: "archive.tar.gz", want: ".tar.gz"},
		{filename: "world.backup.tar.gz", want: ".backup.tar.gz"},
		{filename: "world.backup.tar.zst", want: ".backup.tar.zst"},
		{filename: "logs.tar.xz", want: ".tar.xz"},
		{filename: "my.photo.jpeg", want: ".jpeg"},
		{filename: "noextension", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := FileExtension(tt.filename); got != tt.want {
				t.Errorf("FileExtension(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
