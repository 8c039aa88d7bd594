package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imgsvc/internal/blobstore"
	"imgsvc/internal/cache"
	"imgsvc/internal/models"
	"imgsvc/internal/store"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

type fakeObjects struct {
	mu        sync.Mutex
	log       *eventLog
	objects   map[string]fakeObject
	putErr    error
	deleteErr map[string]error
	modified  time.Time
}

func newFakeObjects(log *eventLog) *fakeObjects {
	return &fakeObjects{
		log:       log,
		objects:   make(map[string]fakeObject),
		deleteErr: make(map[string]error),
		modified:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, contentType string) (blobstore.PutResult, error) {
	f.log.add("put " + key)
	if f.putErr != nil {
		return blobstore.PutResult{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return blobstore.PutResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, contentType: contentType, modified: f.modified}
	return blobstore.PutResult{Key: key, SizeBytes: int64(len(data))}, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	f.log.add("delete object " + key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://cdn.test/images/" + key
}

func (f *fakeObjects) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]blobstore.ObjectInfo, 0, len(f.objects))
	for key, obj := range f.objects {
		out = append(out, blobstore.ObjectInfo{Key: key, SizeBytes: int64(len(obj.data)), LastModified: obj.modified})
	}
	return out, nil
}

func (f *fakeObjects) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, "", blobstore.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (f *fakeObjects) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeObjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// putOnlyObjects has no List or Open.
type putOnlyObjects struct{ blobstore.ObjectStore }

type fakeRecords struct {
	mu        sync.Mutex
	log       *eventLog
	records   map[string]models.ImageRecord
	insertErr error
	getErr    error
	deleteErr error
	getCalls  atomic.Int32
	getGate   chan struct{}
}

func newFakeRecords(log *eventLog) *fakeRecords {
	return &fakeRecords{log: log, records: make(map[string]models.ImageRecord)}
}

func (f *fakeRecords) InsertImage(ctx context.Context, record *models.ImageRecord) error {
	f.log.add("insert " + record.ID)
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID]; ok {
		return store.ErrDuplicateImage
	}
	f.records[record.ID] = *record
	return nil
}

func (f *fakeRecords) GetImage(ctx context.Context, id string) (*models.ImageRecord, error) {
	f.getCalls.Add(1)
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *fakeRecords) DeleteImage(ctx context.Context, id string) error {
	f.log.add("delete record " + id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeRecords) ImageExistsByKey(ctx context.Context, storageKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.StorageKey == storageKey {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRecords) StoreInfo(ctx context.Context) (*store.StoreInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := &store.StoreInfo{SchemaVersion: 2, TotalImages: len(f.records)}
	for _, record := range f.records {
		info.TotalBytes += record.SizeBytes
	}
	return info, nil
}

func (f *fakeRecords) put(record models.ImageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.ID] = record
}

func (f *fakeRecords) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok
}

type recordingObserver struct {
	mu      sync.Mutex
	uploads []int64
	errs    map[string]int
	hits    int
	misses  int
	swept   int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{errs: make(map[string]int)}
}

func (o *recordingObserver) record(op string, err error) {
	if err != nil {
		o.errs[op]++
	}
}

func (o *recordingObserver) RecordUpload(_ time.Duration, size int64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads = append(o.uploads, size)
	o.record("upload", err)
}

func (o *recordingObserver) RecordGet(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("get", err)
}

func (o *recordingObserver) RecordDelete(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("delete", err)
}

func (o *recordingObserver) RecordSweep(_ time.Duration, deleted int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.swept += deleted
	o.record("sweep", err)
}

func (o *recordingObserver) RecordCacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

type serviceFixture struct {
	log      *eventLog
	objects  *fakeObjects
	records  *fakeRecords
	views    *cache.Cache[models.ImageView]
	observer *recordingObserver
	service  *ImageService
	now      time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := &eventLog{}
	f := &serviceFixture{
		log:      log,
		objects:  newFakeObjects(log),
		records:  newFakeRecords(log),
		observer: newRecordingObserver(),
		now:      time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}
	views, err := cache.New[models.ImageView](cache.Options{Now: func() time.Time { return f.now }})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	f.views = views
	f.service = NewImageService(f.objects, f.records, views, ImageServiceOptions{
		Observer: f.observer,
		Now:      func() time.Time { return f.now },
	})
	return f
}

func TestUploadStoresObjectRecordAndView(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	view, err := f.service.Upload(ctx, strings.NewReader("<svg/>"), "logo.svg", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if view.ContentType != models.MediaTypeSVG {
		t.Fatalf("expected svg content type, got %q", view.ContentType)
	}
	key := view.ID + ".svg"
	if view.URL != f.objects.PublicURL(key) {
		t.Fatalf("expected url for %s, got %q", key, view.URL)
	}

	events := f.log.snapshot()
	want := []string{"put " + key, "insert " + view.ID}
	if strings.Join(events, "|") != strings.Join(want, "|") {
		t.Fatalf("expected object before record %v, got %v", want, events)
	}

	record, err := f.records.GetImage(ctx, view.ID)
	if err != nil || record == nil {
		t.Fatalf("expected record, got %v %v", record, err)
	}
	if record.StorageKey != key || record.SizeBytes != 6 || record.OriginalFilename != "logo.svg" {
		t.Fatalf("unexpected record %#v", record)
	}
	if !record.CreatedAt.Equal(f.now) {
		t.Fatalf("expected created_at %v, got %v", f.now, record.CreatedAt)
	}

	cached, ok := f.views.Get(view.ID)
	if !ok || cached != view {
		t.Fatalf("expected view cached after upload, got %#v %v", cached, ok)
	}
	if len(f.observer.uploads) != 1 || f.observer.uploads[0] != 6 {
		t.Fatalf("expected upload of 6 bytes observed, got %v", f.observer.uploads)
	}
}

func TestUploadKeepsDeclaredContentType(t *testing.T) {
	f := newServiceFixture(t)

	view, err := f.service.Upload(context.Background(), strings.NewReader("png"), "photo.PNG", "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if view.ContentType != "image/png" {
		t.Fatalf("expected declared type, got %q", view.ContentType)
	}
	if !f.objects.has(view.ID + ".PNG") {
		t.Fatalf("expected storage key to keep the original extension")
	}
}

func TestUploadWithoutExtensionUsesOctetStream(t *testing.T) {
	f := newServiceFixture(t)

	view, err := f.service.Upload(context.Background(), strings.NewReader("raw"), "", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if view.ContentType != models.MediaTypeOctetStream {
		t.Fatalf("expected octet-stream, got %q", view.ContentType)
	}
	if !f.objects.has(view.ID) {
		t.Fatalf("expected bare id as storage key")
	}
}

func TestUploadsGetDistinctIdentities(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a, err := f.service.Upload(ctx, strings.NewReader("same"), "a.png", "image/png")
	if err != nil {
		t.Fatalf("upload a: %v", err)
	}
	b, err := f.service.Upload(ctx, strings.NewReader("same"), "a.png", "image/png")
	if err != nil {
		t.Fatalf("upload b: %v", err)
	}
	if a.ID == b.ID || a.URL == b.URL {
		t.Fatalf("expected distinct identities, got %#v and %#v", a, b)
	}
	if f.objects.count() != 2 {
		t.Fatalf("expected two stored objects, got %d", f.objects.count())
	}
}

func TestUploadRejectsEmptyContent(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Upload(context.Background(), strings.NewReader(""), "empty.png", "image/png")
	if httpStatusFromError(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if errorNumericCode(http.StatusBadRequest, err) != ErrCodeEmptyContent {
		t.Fatalf("expected empty content error code, got %d", errorNumericCode(http.StatusBadRequest, err))
	}
	if len(f.log.snapshot()) != 0 {
		t.Fatalf("expected no store calls, got %v", f.log.snapshot())
	}
}

func TestUploadObjectFailureWritesNoRecord(t *testing.T) {
	f := newServiceFixture(t)
	f.objects.putErr = errors.New("disk full")

	_, err := f.service.Upload(context.Background(), strings.NewReader("x"), "a.png", "")
	if httpStatusFromError(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	for _, event := range f.log.snapshot() {
		if strings.HasPrefix(event, "insert") {
			t.Fatalf("record insert attempted after failed put: %v", f.log.snapshot())
		}
	}
	if f.views.Len() != 0 {
		t.Fatalf("expected nothing cached")
	}
	if f.observer.errs["upload"] != 1 {
		t.Fatalf("expected observed upload error, got %v", f.observer.errs)
	}
}

func TestUploadAcceptsAnyFilenameOnLocalStore(t *testing.T) {
	objects, err := blobstore.NewLocalStore(t.TempDir(), "http://img.test/objects")
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	views, err := cache.New[models.ImageView](cache.Options{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	service := NewImageService(objects, newFakeRecords(&eventLog{}), views, ImageServiceOptions{})
	ctx := context.Background()

	tests := []struct {
		filename string
		ext      string
		urlTail  string
	}{
		{"notes.meta", ".meta", ".meta"},
		{`a.b\c`, "", ""},
		{"a.p#g", ".p#g", ".p%23g"},
		{"a.png", ".png", ".png"},
	}
	for _, tt := range tests {
		view, err := service.Upload(ctx, strings.NewReader("data"), tt.filename, "")
		if err != nil {
			t.Fatalf("upload %q: %v", tt.filename, err)
		}
		if want := "http://img.test/objects/" + view.ID + tt.urlTail; view.URL != want {
			t.Fatalf("upload %q: expected url %q, got %q", tt.filename, want, view.URL)
		}
		rc, _, err := objects.Open(ctx, view.ID+tt.ext)
		if err != nil {
			t.Fatalf("open %q: %v", tt.filename, err)
		}
		rc.Close()
	}
}

func TestUploadRecordFailureLeavesOrphanObject(t *testing.T) {
	f := newServiceFixture(t)
	f.records.insertErr = errors.New("database is locked")

	_, err := f.service.Upload(context.Background(), strings.NewReader("x"), "a.png", "")
	if httpStatusFromError(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if errorNumericCode(http.StatusInternalServerError, err) != ErrCodeStoreFailure {
		t.Fatalf("expected store failure code, got %d", errorNumericCode(http.StatusInternalServerError, err))
	}
	if f.objects.count() != 1 {
		t.Fatalf("expected object left in place for the sweeper, got %d objects", f.objects.count())
	}
	if f.views.Len() != 0 {
		t.Fatalf("expected nothing cached")
	}
}

func TestUploadIDCollisionIsStoreFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.records.insertErr = store.ErrDuplicateImage

	_, err := f.service.Upload(context.Background(), strings.NewReader("x"), "a.png", "")
	status := httpStatusFromError(err)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for id collision, got %d (%v)", status, err)
	}
	if !errors.Is(err, store.ErrDuplicateImage) {
		t.Fatalf("expected duplicate error kept in chain, got %v", err)
	}
	if code := errorNumericCode(status, err); code != ErrCodeStoreFailure {
		t.Fatalf("expected store failure code, got %d", code)
	}
	if code := defaultErrorCodeByStatus(http.StatusConflict); code != 0 {
		t.Fatalf("expected no code for 409, got %d", code)
	}
}

func TestUploadHonorsCancellation(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Upload(ctx, strings.NewReader("x"), "a.png", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if httpStatusFromError(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for cancelled request, got %d", httpStatusFromError(err))
	}
	if len(f.log.snapshot()) != 0 {
		t.Fatalf("expected no store calls, got %v", f.log.snapshot())
	}
}

func TestUploadOversizedBodyIsClientError(t *testing.T) {
	f := newServiceFixture(t)
	body := http.MaxBytesReader(nil, io.NopCloser(strings.NewReader(strings.Repeat("x", 64))), 8)

	_, err := f.service.Upload(context.Background(), body, "big.png", "image/png")
	if httpStatusFromError(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if errorNumericCode(http.StatusBadRequest, err) != ErrCodeRequestTooLarge {
		t.Fatalf("expected request too large code, got %d", errorNumericCode(http.StatusBadRequest, err))
	}
}

func TestUploadThenGetServesCachedView(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	uploaded, err := f.service.Upload(ctx, strings.NewReader("gif"), "anim.gif", "image/gif")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	view, ok, err := f.service.Get(ctx, uploaded.ID)
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if view != uploaded {
		t.Fatalf("expected %#v, got %#v", uploaded, view)
	}
	if got := f.records.getCalls.Load(); got != 0 {
		t.Fatalf("expected no record lookups, got %d", got)
	}
}

func TestGetAfterExpiryRebuildsViewFromRecord(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	uploaded, err := f.service.Upload(ctx, strings.NewReader("<svg/>"), "logo.svg", "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f.now = f.now.Add(cache.DefaultTTL)
	if _, ok := f.views.Get(uploaded.ID); ok {
		t.Fatal("expected cached view to expire")
	}

	view, ok, err := f.service.Get(ctx, uploaded.ID)
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if view != uploaded {
		t.Fatalf("expected rebuilt view %#v, got %#v", uploaded, view)
	}
	if got := f.records.getCalls.Load(); got != 1 {
		t.Fatalf("expected one record lookup after expiry, got %d", got)
	}
	if _, ok := f.views.Get(uploaded.ID); !ok {
		t.Fatal("expected rebuilt view cached again")
	}
}

func TestGetReadsThroughCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.records.put(models.ImageRecord{ID: "11111111-1111-1111-1111-111111111111", StorageKey: "11111111-1111-1111-1111-111111111111.gif", ContentType: "image/gif"})

	view, ok, err := f.service.Get(ctx, "11111111-1111-1111-1111-111111111111")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if view.URL != "https://cdn.test/images/11111111-1111-1111-1111-111111111111.gif" || view.ContentType != "image/gif" {
		t.Fatalf("unexpected view %#v", view)
	}

	if _, _, err := f.service.Get(ctx, "11111111-1111-1111-1111-111111111111"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if got := f.records.getCalls.Load(); got != 1 {
		t.Fatalf("expected one record lookup, got %d", got)
	}
	if f.observer.hits != 1 || f.observer.misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d/%d", f.observer.hits, f.observer.misses)
	}
}

func TestGetMissingIsNotCached(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := "22222222-2222-2222-2222-222222222222"

	for i := 0; i < 2; i++ {
		_, ok, err := f.service.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ok {
			t.Fatal("expected missing image")
		}
	}
	if got := f.records.getCalls.Load(); got != 2 {
		t.Fatalf("expected absence to be looked up every time, got %d lookups", got)
	}

	f.records.put(models.ImageRecord{ID: id, StorageKey: id, ContentType: models.MediaTypeOctetStream})
	if _, ok, err := f.service.Get(ctx, id); err != nil || !ok {
		t.Fatalf("expected image to become visible, got %v %v", ok, err)
	}
}

func TestGetDoesNotCheckObjectExistence(t *testing.T) {
	f := newServiceFixture(t)
	id := "33333333-3333-3333-3333-333333333333"
	f.records.put(models.ImageRecord{ID: id, StorageKey: id + ".png", ContentType: "image/png"})

	_, ok, err := f.service.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("expected record-only image to resolve, got %v %v", ok, err)
	}
}

func TestGetStoreErrorPropagates(t *testing.T) {
	f := newServiceFixture(t)
	f.records.getErr = errors.New("disk I/O error")

	_, _, err := f.service.Get(context.Background(), "44444444-4444-4444-4444-444444444444")
	if httpStatusFromError(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if f.views.Len() != 0 {
		t.Fatal("expected failed lookup not to be cached")
	}
}

func TestGetCollapsesConcurrentMisses(t *testing.T) {
	f := newServiceFixture(t)
	id := "55555555-5555-5555-5555-555555555555"
	f.records.put(models.ImageRecord{ID: id, StorageKey: id, ContentType: models.MediaTypeOctetStream})
	f.records.getGate = make(chan struct{})

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := f.service.Get(context.Background(), id)
			if err == nil && !ok {
				err = errors.New("missing")
			}
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.records.getCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Give the remaining callers a chance to join the in-flight lookup.
	time.Sleep(20 * time.Millisecond)
	close(f.records.getGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if got := f.records.getCalls.Load(); got != 1 {
		t.Fatalf("expected a single record lookup, got %d", got)
	}
}

func TestDeleteRemovesObjectRecordAndView(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	view, err := f.service.Upload(ctx, strings.NewReader("gif"), "a.gif", "image/gif")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	deleted, err := f.service.Delete(ctx, view.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}

	events := f.log.snapshot()
	tail := events[len(events)-2:]
	want := []string{"delete object " + view.ID + ".gif", "delete record " + view.ID}
	if strings.Join(tail, "|") != strings.Join(want, "|") {
		t.Fatalf("expected object then record delete %v, got %v", want, tail)
	}
	if _, ok := f.views.Get(view.ID); ok {
		t.Fatal("expected cached view evicted")
	}
	if _, ok, err := f.service.Get(ctx, view.ID); err != nil || ok {
		t.Fatalf("expected deleted image to be gone, got %v %v", ok, err)
	}
}

func TestDeleteMissingReportsFalse(t *testing.T) {
	f := newServiceFixture(t)

	deleted, err := f.service.Delete(context.Background(), "66666666-6666-6666-6666-666666666666")
	if err != nil || deleted {
		t.Fatalf("expected (false, nil), got (%v, %v)", deleted, err)
	}
	if len(f.log.snapshot()) != 0 {
		t.Fatalf("expected no side effects, got %v", f.log.snapshot())
	}
}

func TestDeleteObjectFailureKeepsRecordAndView(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view, err := f.service.Upload(ctx, strings.NewReader("x"), "a.png", "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f.objects.deleteErr[view.ID+".png"] = errors.New("access denied")

	if _, err := f.service.Delete(ctx, view.ID); httpStatusFromError(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if !f.records.has(view.ID) {
		t.Fatal("expected record kept when object delete fails")
	}
	if _, ok := f.views.Get(view.ID); !ok {
		t.Fatal("expected cached view kept when object delete fails")
	}
}

func TestDeleteRecordFailureIsNotRolledBack(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view, err := f.service.Upload(ctx, strings.NewReader("x"), "a.png", "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f.records.deleteErr = errors.New("database is locked")

	if _, err := f.service.Delete(ctx, view.ID); httpStatusFromError(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if f.objects.has(view.ID + ".png") {
		t.Fatal("expected object to stay deleted")
	}
	if !f.records.has(view.ID) {
		t.Fatal("expected record to remain after failed delete")
	}
}

func TestSweepOrphansDryRunAndApply(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	view, err := f.service.Upload(ctx, strings.NewReader("kept"), "kept.png", "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := f.objects.Put(ctx, "orphan.png", strings.NewReader("orphan"), "image/png"); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	f.objects.modified = f.now.Add(-time.Minute)
	if _, err := f.objects.Put(ctx, "fresh.png", strings.NewReader("fresh"), "image/png"); err != nil {
		t.Fatalf("seed fresh orphan: %v", err)
	}

	dry, err := f.service.SweepOrphans(ctx, false)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !dry.DryRun || dry.ScannedCount != 3 || dry.CandidateCount != 1 || dry.SkippedRecent != 1 || dry.DeletedCount != 0 {
		t.Fatalf("unexpected dry run result %#v", dry)
	}
	if dry.ReclaimedBytes != int64(len("orphan")) {
		t.Fatalf("expected reclaimable bytes reported, got %d", dry.ReclaimedBytes)
	}
	if !f.objects.has("orphan.png") {
		t.Fatal("dry run must not delete")
	}

	applied, err := f.service.SweepOrphans(ctx, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.DryRun || applied.DeletedCount != 1 || applied.FailedCount != 0 {
		t.Fatalf("unexpected apply result %#v", applied)
	}
	if f.objects.has("orphan.png") {
		t.Fatal("expected orphan deleted")
	}
	if !f.objects.has("fresh.png") {
		t.Fatal("expected object inside the grace period kept")
	}
	if !f.objects.has(view.ID + ".png") {
		t.Fatal("expected referenced object kept")
	}
	if f.observer.swept != 1 {
		t.Fatalf("expected swept objects observed, got %d", f.observer.swept)
	}
}

func TestSweepOrphansCountsDeleteFailures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	if _, err := f.objects.Put(ctx, "stuck.png", strings.NewReader("x"), ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.objects.deleteErr["stuck.png"] = errors.New("access denied")

	result, err := f.service.SweepOrphans(ctx, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.FailedCount != 1 || result.DeletedCount != 0 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestSweepOrphansRequiresLister(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewImageService(putOnlyObjects{f.objects}, f.records, f.views, ImageServiceOptions{})

	_, err := svc.SweepOrphans(context.Background(), false)
	if httpStatusFromError(err) != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %v", err)
	}
}

func TestUnconfiguredServiceFails(t *testing.T) {
	var svc *ImageService
	if _, err := svc.Upload(context.Background(), strings.NewReader("x"), "", ""); httpStatusFromError(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500 from nil service, got %v", err)
	}
	if _, _, err := svc.Get(context.Background(), "x"); err == nil {
		t.Fatal("expected error from nil service")
	}
}
