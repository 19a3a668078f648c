package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docvault/internal/usertoken"
	"docvault/pkg/domain"
	"docvault/pkg/logs"
	"docvault/pkg/queue"
	"docvault/pkg/storage"
	"docvault/pkg/store"
)

type testEnv struct {
	app   *App
	store *store.MemoryStore
	blobs *storage.MemoryStore
	docs  *queue.RedisQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	docs, err := queue.New(queue.Config{Client: client, Name: "documents"})
	if err != nil {
		t.Fatalf("new document queue: %v", err)
	}
	logQueue, err := queue.New(queue.Config{Client: client, Name: "logs"})
	if err != nil {
		t.Fatalf("new log queue: %v", err)
	}
	tokens, err := usertoken.New(usertoken.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}

	dataStore := store.NewMemoryStore()
	blobs := storage.NewMemoryStore()
	a, err := New(Config{
		Store:     dataStore,
		Blobs:     blobs,
		Documents: docs,
		Logs:      logs.NewProducer(logQueue, nil),
		LogReader: logs.NewReader(logQueue),
		Tokens:    tokens,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: a, store: dataStore, blobs: blobs, docs: docs}
}

func seedDocument(t *testing.T, env *testEnv, ownerID, name string) domain.Document {
	t.Helper()
	now := time.Now().UTC()
	doc, err := env.store.CreateDocument(domain.Document{
		ID:        "doc-" + name,
		Name:      name,
		Status:    domain.StatusUploaded,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func waitingJobs(t *testing.T, env *testEnv) []queue.Job {
	t.Helper()
	jobs, err := env.docs.Jobs(context.Background(), queue.StatusWaiting)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	return jobs
}

var alice = domain.Principal{ID: "u-alice", Email: "alice@example.com", Role: domain.RoleUser}
var bob = domain.Principal{ID: "u-bob", Email: "bob@example.com", Role: domain.RoleUser}

func TestSubmitUploadEnqueuesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.app.SubmitUpload(ctx, alice, "report.txt", []byte("hello")); err != nil {
		t.Fatalf("SubmitUpload: %v", err)
	}

	jobs := waitingJobs(t, env)
	if len(jobs) != 1 {
		t.Fatalf("waiting jobs = %d, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Name != domain.JobUploadDocument {
		t.Fatalf("job name = %q, want %q", job.Name, domain.JobUploadDocument)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("maxAttempts = %d, want 3", job.MaxAttempts)
	}
	var p domain.UploadJob
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.OwnerID != alice.ID || p.OwnerEmail != alice.Email || p.OriginalFilename != "report.txt" {
		t.Fatalf("payload = %+v", p)
	}
	if string(p.FileData) != "hello" {
		t.Fatalf("fileData = %q", p.FileData)
	}
	// No blob and no record yet: mutations belong to the worker.
	if env.blobs.Len() != 0 {
		t.Fatal("gateway wrote a blob")
	}
	if _, ok, _ := env.store.FindDocumentByOwnerAndName(alice.ID, "report.txt"); ok {
		t.Fatal("gateway created a document record")
	}
}

func TestSubmitUploadRejectsDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedDocument(t, env, alice.ID, "report.txt")

	err := env.app.SubmitUpload(ctx, alice, "report.txt", []byte("again"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	if jobs := waitingJobs(t, env); len(jobs) != 0 {
		t.Fatalf("waiting jobs = %d after rejection, want 0", len(jobs))
	}

	// The same name under a different owner is fine.
	if err := env.app.SubmitUpload(ctx, bob, "report.txt", []byte("mine")); err != nil {
		t.Fatalf("SubmitUpload other owner: %v", err)
	}
}

func TestSubmitUpdateRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := seedDocument(t, env, alice.ID, "report.txt")

	if err := env.app.SubmitUpdate(ctx, bob, doc.ID, "report.txt", []byte("x")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign update err = %v, want ErrUnauthorized", err)
	}
	if err := env.app.SubmitUpdate(ctx, alice, "no-such-doc", "report.txt", []byte("x")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing doc err = %v, want ErrUnauthorized", err)
	}
	if jobs := waitingJobs(t, env); len(jobs) != 0 {
		t.Fatalf("waiting jobs = %d after rejections, want 0", len(jobs))
	}

	if err := env.app.SubmitUpdate(ctx, alice, doc.ID, "report.txt", []byte("x")); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	jobs := waitingJobs(t, env)
	if len(jobs) != 1 || jobs[0].Name != domain.JobUpdateDocument {
		t.Fatalf("jobs = %+v, want one update job", jobs)
	}
}

func TestDeleteDocumentRemovesBlobThenRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := seedDocument(t, env, alice.ID, "report.txt")
	key := domain.BlobPath(alice.Email, doc.Name)
	if err := env.blobs.Put(ctx, key, []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	if err := env.app.DeleteDocument(ctx, bob, doc.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign delete err = %v, want ErrUnauthorized", err)
	}
	if !env.blobs.Has(key) {
		t.Fatal("foreign delete removed the blob")
	}

	if err := env.app.DeleteDocument(ctx, alice, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if env.blobs.Has(key) {
		t.Fatal("blob still present after delete")
	}
	if _, ok, _ := env.store.GetDocument(doc.ID); ok {
		t.Fatal("record still present after delete")
	}
}

func TestSecuredReadURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := seedDocument(t, env, alice.ID, "report.txt")
	if err := env.blobs.Put(ctx, domain.BlobPath(alice.Email, doc.Name), []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	if _, err := env.app.SecuredReadURL(ctx, alice, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing doc err = %v, want ErrNotFound", err)
	}
	if _, err := env.app.SecuredReadURL(ctx, bob, doc.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign doc err = %v, want ErrUnauthorized", err)
	}
	url, err := env.app.SecuredReadURL(ctx, alice, doc.ID)
	if err != nil {
		t.Fatalf("SecuredReadURL: %v", err)
	}
	if !strings.Contains(url, domain.BlobPath(alice.Email, doc.Name)) {
		t.Fatalf("url = %q, want it to address the blob path", url)
	}
}

func TestDocumentContentIsPlainTextOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txt := seedDocument(t, env, alice.ID, "notes.txt")
	pdf := seedDocument(t, env, alice.ID, "scan.pdf")
	if err := env.blobs.Put(ctx, domain.BlobPath(alice.Email, txt.Name), []byte("note body"), "text/plain"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	data, err := env.app.DocumentContent(ctx, alice, txt.ID)
	if err != nil {
		t.Fatalf("DocumentContent: %v", err)
	}
	if string(data) != "note body" {
		t.Fatalf("content = %q", data)
	}
	if _, err := env.app.DocumentContent(ctx, alice, pdf.ID); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("pdf err = %v, want ErrUnsupportedType", err)
	}
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.app.Register(ctx, "Admin@Example.com", "longenough", "Admin")
	if err != nil {
		t.Fatalf("register first: %v", err)
	}
	if first.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %q, want ADMIN", first.Role)
	}
	if first.Email != "admin@example.com" {
		t.Fatalf("email = %q, want lowercased", first.Email)
	}

	second, err := env.app.Register(ctx, "user@example.com", "longenough", "")
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if second.Role != domain.RoleUser {
		t.Fatalf("second user role = %q, want USER", second.Role)
	}

	if _, err := env.app.Register(ctx, "admin@example.com", "longenough", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email err = %v, want ErrEmailTaken", err)
	}
	if _, err := env.app.Register(ctx, "short@example.com", "tiny", ""); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, err := env.app.Register(ctx, "alice@example.com", "longenough", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, got, err := env.app.Login(ctx, "alice@example.com", "longenough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("login user = %q, want %q", got.ID, user.ID)
	}
	principal, err := env.app.tokens.Verify(token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if principal.ID != user.ID || principal.Email != user.Email {
		t.Fatalf("principal = %+v", principal)
	}

	if _, _, err := env.app.Login(ctx, "alice@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := env.app.Login(ctx, "nobody@example.com", "longenough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogsAreAdminOnlyAndRecordActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin, err := env.app.Register(ctx, "admin@example.com", "longenough", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := env.app.SubmitUpload(ctx, alice, "report.txt", []byte("hello")); err != nil {
		t.Fatalf("SubmitUpload: %v", err)
	}

	if _, err := env.app.Logs(ctx, alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin logs err = %v, want ErrUnauthorized", err)
	}

	caller := domain.Principal{ID: admin.ID, Email: admin.Email, Role: admin.Role}
	entries, err := env.app.Logs(ctx, caller)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	types := map[string]bool{}
	for _, e := range entries {
		types[e.Type] = true
	}
	if !types[domain.LogUser] || !types[domain.LogDocument] {
		t.Fatalf("log types = %v, want user and document entries", types)
	}

	userOnly, err := env.app.Logs(ctx, caller, domain.LogUser)
	if err != nil {
		t.Fatalf("Logs filtered: %v", err)
	}
	for _, e := range userOnly {
		if e.Type != domain.LogUser {
			t.Fatalf("filtered entry type = %q", e.Type)
		}
	}
	if len(userOnly) == 0 {
		t.Fatal("no user entries in filtered history")
	}
}
