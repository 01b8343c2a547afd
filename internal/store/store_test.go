package store_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/pkg/types"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXRELAY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXRELAY_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [store.Store] with a clean schema.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop the previous schema before migrating.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := store.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS kb_chunks CASCADE",
		"DROP TABLE IF EXISTS agent_tools CASCADE",
		"DROP TABLE IF EXISTS kb_documents CASCADE",
		"DROP TABLE IF EXISTS phone_numbers CASCADE",
		"DROP TABLE IF EXISTS webhook_configs CASCADE",
		"DROP TABLE IF EXISTS conversations CASCADE",
		"DROP TABLE IF EXISTS agents CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func mustCreateAgent(t *testing.T, ctx context.Context, st *store.Store, name string) types.AgentConfig {
	t.Helper()
	agent := types.AgentConfig{
		ID:                  store.NewAgentID(),
		Name:                name,
		SystemPrompt:        "You are a helpful receptionist.",
		Greeting:            "Hello {{name}}! How can I help?",
		Voice:               "aura-2-thalia-en",
		SilenceThresholdSec: 0.8,
		InterruptEnabled:    true,
		Metadata:            map[string]string{"team": "reception"},
	}
	if err := st.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return agent
}

func TestAgentCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := mustCreateAgent(t, ctx, st, "Front Desk")

	got, err := st.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != agent.Name {
		t.Errorf("Name: want %q, got %q", agent.Name, got.Name)
	}
	if got.Greeting != agent.Greeting {
		t.Errorf("Greeting: want %q, got %q", agent.Greeting, got.Greeting)
	}
	if got.SilenceThresholdSec != 0.8 {
		t.Errorf("SilenceThresholdSec: want 0.8, got %v", got.SilenceThresholdSec)
	}
	if got.Metadata["team"] != "reception" {
		t.Errorf("Metadata: want team=reception, got %v", got.Metadata)
	}

	got.Name = "Renamed Desk"
	got.InterruptEnabled = false
	if err := st.UpdateAgent(ctx, got); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	updated, err := st.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent after update: %v", err)
	}
	if updated.Name != "Renamed Desk" || updated.InterruptEnabled {
		t.Errorf("update not applied: %+v", updated)
	}

	second := mustCreateAgent(t, ctx, st, "Sales Desk")
	agents, err := st.ListAgents(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Errorf("ListAgents: want 2, got %d", len(agents))
	}

	if err := st.DeleteAgent(ctx, second.ID); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := st.GetAgent(ctx, second.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAgent after delete: want ErrNotFound, got %v", err)
	}
	agents, err = st.ListAgents(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListAgents after delete: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("ListAgents after delete: want 1, got %d", len(agents))
	}
}

func TestAgentNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetAgent(ctx, "agent_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAgent: want ErrNotFound, got %v", err)
	}
	if err := st.UpdateAgent(ctx, types.AgentConfig{ID: "agent_missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateAgent: want ErrNotFound, got %v", err)
	}
	if err := st.DeleteAgent(ctx, "agent_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteAgent: want ErrNotFound, got %v", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := mustCreateAgent(t, ctx, st, "Front Desk")
	conv := store.Conversation{
		ID:               store.NewConversationID(),
		AgentID:          agent.ID,
		PhoneNumber:      "+15550001111",
		Direction:        store.DirectionOutbound,
		DynamicVariables: map[string]string{"name": "Alice"},
	}
	if err := st.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Status != store.StatusInitiated {
		t.Errorf("Status: want %q, got %q", store.StatusInitiated, got.Status)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt: want nil before start, got %v", got.StartedAt)
	}
	if got.DynamicVariables["name"] != "Alice" {
		t.Errorf("DynamicVariables: want name=Alice, got %v", got.DynamicVariables)
	}

	if err := st.MarkConversationStarted(ctx, conv.ID); err != nil {
		t.Fatalf("MarkConversationStarted: %v", err)
	}
	got, err = st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Status != store.StatusInProgress {
		t.Errorf("Status: want %q, got %q", store.StatusInProgress, got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt: want non-nil after start")
	}

	transcript := "User: Hi there\nAssistant: Hello! How can I help you today?"
	if err := st.CompleteConversation(ctx, conv.ID, transcript, 42.5, "user_hangup"); err != nil {
		t.Fatalf("CompleteConversation: %v", err)
	}
	if err := st.SetRecordingURL(ctx, conv.ID, "https://api.example.com/rec/RE123"); err != nil {
		t.Fatalf("SetRecordingURL: %v", err)
	}

	got, err = st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("Status: want %q, got %q", store.StatusCompleted, got.Status)
	}
	if got.Transcript != transcript {
		t.Errorf("Transcript: want %q, got %q", transcript, got.Transcript)
	}
	if got.DurationSecs != 42.5 {
		t.Errorf("DurationSecs: want 42.5, got %v", got.DurationSecs)
	}
	if got.EndedReason != "user_hangup" {
		t.Errorf("EndedReason: want user_hangup, got %q", got.EndedReason)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt: want non-nil after completion")
	}
	if !strings.HasPrefix(got.RecordingURL, "https://") {
		t.Errorf("RecordingURL: got %q", got.RecordingURL)
	}
}

func TestListConversations_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustCreateAgent(t, ctx, st, "Agent A")
	b := mustCreateAgent(t, ctx, st, "Agent B")

	for _, c := range []store.Conversation{
		{ID: store.NewConversationID(), AgentID: a.ID},
		{ID: store.NewConversationID(), AgentID: a.ID},
		{ID: store.NewConversationID(), AgentID: b.ID},
	} {
		if err := st.CreateConversation(ctx, c); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}

	forA, err := st.ListConversations(ctx, store.ConversationFilter{AgentID: a.ID})
	if err != nil {
		t.Fatalf("ListConversations(agent A): %v", err)
	}
	if len(forA) != 2 {
		t.Errorf("agent A conversations: want 2, got %d", len(forA))
	}

	completed, err := st.ListConversations(ctx, store.ConversationFilter{Status: store.StatusCompleted})
	if err != nil {
		t.Fatalf("ListConversations(completed): %v", err)
	}
	if len(completed) != 0 {
		t.Errorf("completed conversations: want 0, got %d", len(completed))
	}

	limited, err := st.ListConversations(ctx, store.ConversationFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListConversations(limit 2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited conversations: want 2, got %d", len(limited))
	}
}

func TestWebhookConfigs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := mustCreateAgent(t, ctx, st, "Front Desk")

	global := store.WebhookConfig{
		ID:     store.NewWebhookID(),
		URL:    "https://hooks.example.com/all",
		Events: []string{"call.started", "call.ended"},
	}
	scoped := store.WebhookConfig{
		ID:      store.NewWebhookID(),
		URL:     "https://hooks.example.com/agent",
		Events:  []string{"tool.called"},
		AgentID: agent.ID,
	}
	for _, w := range []store.WebhookConfig{global, scoped} {
		if err := st.CreateWebhook(ctx, w); err != nil {
			t.Fatalf("CreateWebhook: %v", err)
		}
	}

	// Agent-scoped listing includes both the scoped and the global hook.
	hooks, err := st.ListWebhooks(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListWebhooks: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("ListWebhooks: want 2, got %d", len(hooks))
	}
	if hooks[0].Events[0] != "call.started" {
		t.Errorf("Events round-trip: got %v", hooks[0].Events)
	}

	// Listing for a different agent sees only the global hook.
	other, err := st.ListWebhooks(ctx, "agent_other")
	if err != nil {
		t.Fatalf("ListWebhooks(other): %v", err)
	}
	if len(other) != 1 || other[0].ID != global.ID {
		t.Errorf("ListWebhooks(other): want only global, got %+v", other)
	}

	if err := st.DeleteWebhook(ctx, scoped.ID); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	hooks, err = st.ListWebhooks(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListWebhooks after delete: %v", err)
	}
	if len(hooks) != 1 {
		t.Errorf("ListWebhooks after delete: want 1, got %d", len(hooks))
	}
	if err := st.DeleteWebhook(ctx, scoped.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteWebhook twice: want ErrNotFound, got %v", err)
	}
}

func TestPhoneNumbers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := mustCreateAgent(t, ctx, st, "Front Desk")
	phone := store.PhoneNumber{
		ID:      store.NewPhoneID(),
		Number:  "+15550002222",
		AgentID: agent.ID,
		Label:   "main line",
	}
	if err := st.RegisterPhoneNumber(ctx, phone); err != nil {
		t.Fatalf("RegisterPhoneNumber: %v", err)
	}

	// Registering the same number again is a duplicate.
	dup := phone
	dup.ID = store.NewPhoneID()
	if err := st.RegisterPhoneNumber(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate register: want ErrDuplicate, got %v", err)
	}

	agentID, err := st.AgentForNumber(ctx, phone.Number)
	if err != nil {
		t.Fatalf("AgentForNumber: %v", err)
	}
	if agentID != agent.ID {
		t.Errorf("AgentForNumber: want %q, got %q", agent.ID, agentID)
	}
	if _, err := st.AgentForNumber(ctx, "+15550009999"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("AgentForNumber(unknown): want ErrNotFound, got %v", err)
	}

	if err := st.UpdatePhoneNumber(ctx, phone.ID, agent.ID, "after hours"); err != nil {
		t.Fatalf("UpdatePhoneNumber: %v", err)
	}
	phones, err := st.ListPhoneNumbers(ctx)
	if err != nil {
		t.Fatalf("ListPhoneNumbers: %v", err)
	}
	if len(phones) != 1 || phones[0].Label != "after hours" {
		t.Errorf("ListPhoneNumbers: got %+v", phones)
	}

	if err := st.DeletePhoneNumber(ctx, phone.ID); err != nil {
		t.Fatalf("DeletePhoneNumber: %v", err)
	}
	phones, err = st.ListPhoneNumbers(ctx)
	if err != nil {
		t.Fatalf("ListPhoneNumbers after delete: %v", err)
	}
	if len(phones) != 0 {
		t.Errorf("ListPhoneNumbers after delete: want 0, got %d", len(phones))
	}
}

func TestAgentTools(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := mustCreateAgent(t, ctx, st, "Front Desk")
	tool := store.AgentTool{
		ID:          store.NewToolID(),
		AgentID:     agent.ID,
		Name:        "check_order",
		Description: "Look up an order by number",
		WebhookURL:  "https://crm.example.com/tools/check_order",
		Parameters: map[string]any{
			"order_number": map[string]any{"type": "string", "required": true},
		},
	}
	if err := st.CreateAgentTool(ctx, tool); err != nil {
		t.Fatalf("CreateAgentTool: %v", err)
	}

	got, err := st.GetAgentTool(ctx, agent.ID, "check_order")
	if err != nil {
		t.Fatalf("GetAgentTool: %v", err)
	}
	if got.WebhookURL != tool.WebhookURL {
		t.Errorf("WebhookURL: want %q, got %q", tool.WebhookURL, got.WebhookURL)
	}
	if _, ok := got.Parameters["order_number"]; !ok {
		t.Errorf("Parameters round-trip: got %v", got.Parameters)
	}

	tools, err := st.ListAgentTools(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListAgentTools: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("ListAgentTools: want 1, got %d", len(tools))
	}

	if err := st.DeleteAgentTool(ctx, agent.ID, tool.ID); err != nil {
		t.Fatalf("DeleteAgentTool: %v", err)
	}
	if _, err := st.GetAgentTool(ctx, agent.ID, "check_order"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAgentTool after delete: want ErrNotFound, got %v", err)
	}
}

func TestDocumentsAndChunks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := mustCreateAgent(t, ctx, st, "Front Desk")
	coll := store.AgentCollection(agent.ID)

	doc := store.KBDocument{
		ID:      store.NewDocumentID(),
		AgentID: agent.ID,
		Content: "Opening hours are 9 to 5. Returns accepted within 30 days.",
	}
	if err := st.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	chunks := []store.Chunk{
		{ID: doc.ID + "_0", Collection: coll, DocumentID: doc.ID, Content: "Opening hours are 9 to 5.", Embedding: []float32{1, 0, 0, 0}},
		{ID: doc.ID + "_1", Collection: coll, DocumentID: doc.ID, Content: "Returns accepted within 30 days.", Embedding: []float32{0, 1, 0, 0}},
	}
	if err := st.IndexChunks(ctx, chunks); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	n, err := st.CollectionSize(ctx, coll)
	if err != nil {
		t.Fatalf("CollectionSize: %v", err)
	}
	if n != 2 {
		t.Errorf("CollectionSize: want 2, got %d", n)
	}

	// A query vector aligned with chunk 0 must rank it first with ~zero
	// cosine distance.
	results, err := st.SearchChunks(ctx, coll, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchChunks: want 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != doc.ID+"_0" {
		t.Errorf("nearest chunk: want %q, got %q", doc.ID+"_0", results[0].Chunk.ID)
	}
	if results[0].Distance > 0.001 {
		t.Errorf("nearest distance: want ~0, got %v", results[0].Distance)
	}
	if results[1].Distance < results[0].Distance {
		t.Error("results not ordered by ascending distance")
	}

	// Searching a different collection finds nothing.
	empty, err := st.SearchChunks(ctx, store.DefaultCollection, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchChunks(docs): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("SearchChunks(docs): want 0, got %d", len(empty))
	}

	// Re-indexing a chunk id replaces its content.
	chunks[0].Content = "Opening hours are 8 to 6."
	if err := st.IndexChunks(ctx, chunks[:1]); err != nil {
		t.Fatalf("IndexChunks upsert: %v", err)
	}
	results, err = st.SearchChunks(ctx, coll, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchChunks after upsert: %v", err)
	}
	if results[0].Chunk.Content != "Opening hours are 8 to 6." {
		t.Errorf("upsert content: got %q", results[0].Chunk.Content)
	}

	// Deleting the document removes its chunks too.
	if err := st.DeleteDocument(ctx, agent.ID, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	docs, err := st.ListDocuments(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("ListDocuments after delete: want 0, got %d", len(docs))
	}
	n, err = st.CollectionSize(ctx, coll)
	if err != nil {
		t.Fatalf("CollectionSize after delete: %v", err)
	}
	if n != 0 {
		t.Errorf("CollectionSize after delete: want 0, got %d", n)
	}

	if err := st.DeleteDocument(ctx, agent.ID, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteDocument twice: want ErrNotFound, got %v", err)
	}
}

func TestNewIDs(t *testing.T) {
	t.Parallel()

	ids := map[string]string{
		"agent": store.NewAgentID(),
		"conv":  store.NewConversationID(),
		"doc":   store.NewDocumentID(),
		"phone": store.NewPhoneID(),
		"wh":    store.NewWebhookID(),
		"tool":  store.NewToolID(),
	}
	for prefix, id := range ids {
		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("id %q missing prefix %q", id, prefix)
		}
		if len(id) != len(prefix)+1+16 {
			t.Errorf("id %q: want %d chars after prefix, got %d", id, 16, len(id)-len(prefix)-1)
		}
	}
	if store.NewAgentID() == store.NewAgentID() {
		t.Error("NewAgentID returned identical ids")
	}
}
