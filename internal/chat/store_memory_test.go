package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_GetOrCreate_ConcurrentSamePair(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	const n = 32
	results := make([]int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate the argument order to exercise pair normalization.
			a, b := int64(1), int64(2)
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := st.GetOrCreatePrivateChat(ctx, a, b)
			if err != nil {
				t.Errorf("get-or-create: %v", err)
				return
			}
			results[i] = c.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("diverging chat ids: results[0]=%d results[%d]=%d", results[0], i, results[i])
		}
	}

	// Exactly one chat row exists afterward.
	if got := len(st.chatsByID); got != 1 {
		t.Fatalf("expected exactly 1 chat, got %d", got)
	}
}

func TestInMemoryStore_GetOrCreate_Validation(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	if _, err := st.GetOrCreatePrivateChat(ctx, 7, 7); !errors.Is(err, ErrSelfChat) {
		t.Fatalf("expected ErrSelfChat, got %v", err)
	}
	if _, err := st.GetOrCreatePrivateChat(ctx, 0, 3); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestInMemoryStore_AppendAndList_OrderAndLength(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	c, err := st.GetOrCreatePrivateChat(ctx, 1, 2)
	if err != nil {
		t.Fatalf("get-or-create: %v", err)
	}

	base := time.Now().UTC()
	const n = 10
	for i := 0; i < n; i++ {
		// Two messages share each timestamp so the id tie-break is exercised.
		_, err := st.AppendMessage(ctx, AppendMessageInput{
			ChatID:   c.ID,
			SenderID: 1 + int64(i%2),
			Content:  fmt.Sprintf("msg-%d", i),
			Now:      base.Add(time.Duration(i/2) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	out, err := st.ListMessages(ctx, ListMessagesInput{ChatID: c.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out.Messages) != n {
		t.Fatalf("expected %d messages, got %d", n, len(out.Messages))
	}
	for i := 1; i < len(out.Messages); i++ {
		prev, cur := out.Messages[i-1], out.Messages[i]
		if cur.CreatedAt.Before(prev.CreatedAt) {
			t.Fatalf("timestamp order violated at %d", i)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID <= prev.ID {
			t.Fatalf("id tie-break violated at %d: prev=%d cur=%d", i, prev.ID, cur.ID)
		}
	}
}

func TestInMemoryStore_List_SinceCursorAndHasMore(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	c, err := st.GetOrCreatePrivateChat(ctx, 3, 4)
	if err != nil {
		t.Fatalf("get-or-create: %v", err)
	}

	var mid int64
	for i := 0; i < 6; i++ {
		m, err := st.AppendMessage(ctx, AppendMessageInput{ChatID: c.ID, SenderID: 3, Content: fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if i == 2 {
			mid = m.ID
		}
	}

	out, err := st.ListMessages(ctx, ListMessagesInput{ChatID: c.ID, SinceID: &mid, Limit: 2})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out.Messages))
	}
	if !out.HasMore {
		t.Fatalf("expected has_more=true")
	}
	if out.Messages[0].ID <= mid {
		t.Fatalf("cursor not exclusive: got id=%d since=%d", out.Messages[0].ID, mid)
	}

	// Cursor past the end yields an empty, restartable read.
	last := out.Messages[1].ID + 100
	out, err = st.ListMessages(ctx, ListMessagesInput{ChatID: c.ID, SinceID: &last})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(out.Messages) != 0 || out.HasMore {
		t.Fatalf("expected empty window, got %d has_more=%v", len(out.Messages), out.HasMore)
	}
}

func TestInMemoryStore_Append_ContentValidation(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	c, err := st.GetOrCreatePrivateChat(ctx, 5, 6)
	if err != nil {
		t.Fatalf("get-or-create: %v", err)
	}

	if _, err := st.AppendMessage(ctx, AppendMessageInput{ChatID: c.ID, SenderID: 5, Content: "   "}); !errors.Is(err, ErrContentEmpty) {
		t.Fatalf("expected ErrContentEmpty, got %v", err)
	}

	long := make([]rune, MaxContentChars+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := st.AppendMessage(ctx, AppendMessageInput{ChatID: c.ID, SenderID: 5, Content: string(long)}); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}

	if _, err := st.AppendMessage(ctx, AppendMessageInput{ChatID: c.ID + 99, SenderID: 5, Content: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_Membership(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()

	c, err := st.GetOrCreatePrivateChat(ctx, 8, 9)
	if err != nil {
		t.Fatalf("get-or-create: %v", err)
	}

	got, err := st.Members(ctx, c.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(got) != 2 || got[0] != 8 || got[1] != 9 {
		t.Fatalf("unexpected members: %v", got)
	}

	ok, err := st.IsMember(ctx, c.ID, 9)
	if err != nil || !ok {
		t.Fatalf("expected member, got ok=%v err=%v", ok, err)
	}
	ok, err = st.IsMember(ctx, c.ID, 10)
	if err != nil || ok {
		t.Fatalf("expected non-member, got ok=%v err=%v", ok, err)
	}
	ok, err = st.IsMember(ctx, c.ID+1, 8)
	if err != nil || ok {
		t.Fatalf("unknown chat must not have members, got ok=%v err=%v", ok, err)
	}
	if _, err := st.Members(ctx, c.ID+1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Members on unknown chat: got %v, want ErrNotFound", err)
	}

	// Re-resolving the same pair must not duplicate membership records.
	if _, err := st.GetOrCreatePrivateChat(ctx, 9, 8); err != nil {
		t.Fatalf("get-or-create again: %v", err)
	}
	got, err = st.Members(ctx, c.ID)
	if err != nil {
		t.Fatalf("members after re-create: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("membership records duplicated: %v", got)
	}
}
