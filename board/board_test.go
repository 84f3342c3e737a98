package board

import (
	"context"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/notification"
	"kanban-api/storage"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memKV) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	inputs []notification.CreateInput
}

func (r *recordingNotifier) Create(in notification.CreateInput) *domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return &domain.Notification{ID: "n", Message: in.Message}
}

func (r *recordingNotifier) recorded() []notification.CreateInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.CreateInput, len(r.inputs))
	copy(out, r.inputs)
	return out
}

type panickyNotifier struct{}

func (panickyNotifier) Create(notification.CreateInput) *domain.Notification {
	panic("notification store exploded")
}

func member(id, name string) *domain.TeamMember {
	return &domain.TeamMember{ID: id, Name: name}
}

func setup(t *testing.T) (*Controller, *recordingNotifier, *memKV) {
	t.Helper()
	kv := newMemKV()
	notifier := &recordingNotifier{}
	c := NewController("viewer", kv, notifier, log.New())
	return c, notifier, kv
}

func TestNewBoardHasThreeFixedColumns(t *testing.T) {
	b := NewBoard()
	if len(b.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(b.Columns))
	}
	ids := []string{ColumnTodo, ColumnInProgress, ColumnCompleted}
	for i, id := range ids {
		if b.Columns[i].ID != id {
			t.Fatalf("unexpected column %d: %s", i, b.Columns[i].ID)
		}
	}
}

func TestStripLabelRemovesGlyphs(t *testing.T) {
	cases := map[string]string{
		" \U0001F4C3 To do":  "To do",
		" ✏️ In progress":    "In progress",
		" ✔️ Completed":      "Completed",
		"Plain":              "Plain",
	}
	for in, want := range cases {
		if got := StripLabel(in); got != want {
			t.Fatalf("StripLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddTaskAppendsAndPersists(t *testing.T) {
	c, _, kv := setup(t)
	ctx := context.Background()

	task, err := c.AddTask(ctx, ColumnTodo, "Fix login", "OAuth flow broken")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected generated task id")
	}
	b := c.Board()
	if len(b.Columns[0].Tasks) != 1 || b.Columns[0].Tasks[0].Title != "Fix login" {
		t.Fatalf("unexpected column state: %#v", b.Columns[0])
	}
	if _, err := kv.Read(ctx, storage.BoardKey("viewer")); err != nil {
		t.Fatalf("expected board persisted: %v", err)
	}

	if _, err := c.AddTask(ctx, "nope", "x", ""); err != ErrColumnNotFound {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestMoveTaskAcrossColumnsNotifiesAssignee(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	if err := c.AssignTask(ctx, task.ID, member("viewer", "Viewer")); err != nil {
		t.Fatalf("assign: %v", err)
	}
	notifier.mu.Lock()
	notifier.inputs = nil
	notifier.mu.Unlock()

	if err := c.MoveTask(ctx, task.ID, ColumnInProgress, 0); err != nil {
		t.Fatalf("move: %v", err)
	}

	inputs := notifier.recorded()
	if len(inputs) != 1 {
		t.Fatalf("expected one notification, got %d", len(inputs))
	}
	in := inputs[0]
	if in.Type != domain.NotificationTaskMoved {
		t.Fatalf("unexpected type: %s", in.Type)
	}
	if in.Message != `Your task "Fix login" was moved` {
		t.Fatalf("unexpected message: %q", in.Message)
	}
	if in.Details != `From "To do" to "In progress"` {
		t.Fatalf("unexpected details: %q", in.Details)
	}

	b := c.Board()
	if len(b.Columns[0].Tasks) != 0 || len(b.Columns[1].Tasks) != 1 {
		t.Fatalf("unexpected board state after move: %#v", b)
	}
}

func TestMoveTaskWithinColumnIsSilent(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	first, _ := c.AddTask(ctx, ColumnTodo, "first", "")
	second, _ := c.AddTask(ctx, ColumnTodo, "second", "")
	_ = c.AssignTask(ctx, first.ID, member("viewer", "Viewer"))
	notifier.mu.Lock()
	notifier.inputs = nil
	notifier.mu.Unlock()

	if err := c.MoveTask(ctx, first.ID, ColumnTodo, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := notifier.recorded(); len(got) != 0 {
		t.Fatalf("reorders within a column must be silent, got %#v", got)
	}
	b := c.Board()
	if b.Columns[0].Tasks[0].ID != second.ID || b.Columns[0].Tasks[1].ID != first.ID {
		t.Fatalf("unexpected order: %#v", b.Columns[0].Tasks)
	}
}

func TestMoveTaskOfOtherAssigneeIsSilent(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "other work", "")
	_ = c.AssignTask(ctx, task.ID, member("someone-else", "Else"))
	notifier.mu.Lock()
	notifier.inputs = nil
	notifier.mu.Unlock()

	if err := c.MoveTask(ctx, task.ID, ColumnCompleted, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := notifier.recorded(); len(got) != 0 {
		t.Fatalf("moves of other viewers' tasks must be silent, got %#v", got)
	}
}

func TestMoveTaskMissing(t *testing.T) {
	c, _, _ := setup(t)
	if err := c.MoveTask(context.Background(), "missing", ColumnTodo, 0); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestAssignTaskToViewerNotifies(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	if err := c.AssignTask(ctx, task.ID, member("viewer", "Viewer")); err != nil {
		t.Fatalf("assign: %v", err)
	}

	inputs := notifier.recorded()
	if len(inputs) != 1 {
		t.Fatalf("expected one notification, got %d", len(inputs))
	}
	if inputs[0].Type != domain.NotificationTaskAssigned {
		t.Fatalf("unexpected type: %s", inputs[0].Type)
	}
	if inputs[0].Message != "New task assigned to you" {
		t.Fatalf("unexpected message: %q", inputs[0].Message)
	}
	if inputs[0].Details != `"Fix login"` {
		t.Fatalf("unexpected details: %q", inputs[0].Details)
	}
}

func TestReassignAwayFromViewerNotifies(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	_ = c.AssignTask(ctx, task.ID, member("viewer", "Viewer"))
	notifier.mu.Lock()
	notifier.inputs = nil
	notifier.mu.Unlock()

	if err := c.AssignTask(ctx, task.ID, member("bob", "Bob")); err != nil {
		t.Fatalf("assign: %v", err)
	}
	inputs := notifier.recorded()
	if len(inputs) != 1 {
		t.Fatalf("expected one notification, got %d", len(inputs))
	}
	if inputs[0].Type != domain.NotificationTaskUpdated {
		t.Fatalf("unexpected type: %s", inputs[0].Type)
	}
	if inputs[0].Message != `Task "Fix login" was reassigned` {
		t.Fatalf("unexpected message: %q", inputs[0].Message)
	}
	if inputs[0].Details != "Assigned to Bob" {
		t.Fatalf("unexpected details: %q", inputs[0].Details)
	}
}

func TestUnassignFromViewerNotifies(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	_ = c.AssignTask(ctx, task.ID, member("viewer", "Viewer"))
	notifier.mu.Lock()
	notifier.inputs = nil
	notifier.mu.Unlock()

	if err := c.AssignTask(ctx, task.ID, nil); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	inputs := notifier.recorded()
	if len(inputs) != 1 || inputs[0].Details != "Unassigned" {
		t.Fatalf("unexpected notifications: %#v", inputs)
	}
}

func TestAssignSameAssigneeIsSilent(t *testing.T) {
	c, notifier, _ := setup(t)
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	_ = c.AssignTask(ctx, task.ID, member("viewer", "Viewer"))
	notifier.mu.Lock()
	notifier.inputs = nil
	notifier.mu.Unlock()

	if err := c.AssignTask(ctx, task.ID, member("viewer", "Viewer")); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := notifier.recorded(); len(got) != 0 {
		t.Fatalf("reassigning the same member must be silent, got %#v", got)
	}
}

func TestMutationSurvivesNotifierPanic(t *testing.T) {
	kv := newMemKV()
	c := NewController("viewer", kv, panickyNotifier{}, log.New())
	ctx := context.Background()

	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	if err := c.AssignTask(ctx, task.ID, member("viewer", "Viewer")); err != nil {
		t.Fatalf("assign should survive notifier panic: %v", err)
	}
	b := c.Board()
	if b.Columns[0].Tasks[0].Assignee == nil || b.Columns[0].Tasks[0].Assignee.ID != "viewer" {
		t.Fatalf("expected assignment committed, got %#v", b.Columns[0].Tasks[0])
	}
}

func TestLoadRestoresPersistedBoard(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	c := NewController("viewer", kv, nil, log.New())
	task, _ := c.AddTask(ctx, ColumnTodo, "Fix login", "")
	_ = c.MoveTask(ctx, task.ID, ColumnInProgress, 0)

	fresh := NewController("viewer", kv, nil, log.New())
	fresh.Load(ctx)
	b := fresh.Board()
	if len(b.Columns[1].Tasks) != 1 || b.Columns[1].Tasks[0].Title != "Fix login" {
		t.Fatalf("unexpected restored board: %#v", b)
	}
}

func TestLoadIgnoresCorruptRecord(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()
	_ = kv.Write(ctx, storage.BoardKey("viewer"), []byte("{oops"))

	c := NewController("viewer", kv, nil, log.New())
	c.Load(ctx)
	if got := len(c.Board().Columns); got != 3 {
		t.Fatalf("expected default board, got %d columns", got)
	}
}
