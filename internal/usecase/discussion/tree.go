package discussion

import (
	"cmp"
	"iter"
	"slices"

	"liuyan-board/internal/domain"
)

// maxTreeDepth ограничивает рекурсию при сборке дерева на случай испорченных данных.
const maxTreeDepth = 6

// ReplyNode — ответ с вложенными ответами и отметкой зрителя.
type ReplyNode struct {
	domain.Reply
	LikedByUser bool        `json:"likedByUser"`
	Replies     []ReplyNode `json:"replies"`
}

// MessageNode — корневое сообщение с деревом ответов.
type MessageNode struct {
	domain.Message
	LikedByUser bool        `json:"likedByUser"`
	Replies     []ReplyNode `json:"replies"`
}

// Snapshot — плоские записи, из которых собирается лента.
type Snapshot struct {
	Messages []domain.Message
	Replies  []domain.Reply
	Likes    []domain.Like
}

type builder struct {
	children map[string][]domain.Reply
	liked    map[string]struct{}
	visited  map[string]struct{}
}

func newBuilder(s Snapshot, viewerID string) *builder {
	b := &builder{
		children: make(map[string][]domain.Reply),
		liked:    make(map[string]struct{}),
		visited:  make(map[string]struct{}),
	}
	for _, r := range s.Replies {
		b.children[r.ParentID] = append(b.children[r.ParentID], r)
	}
	for parent := range b.children {
		slices.SortStableFunc(b.children[parent], func(a, c domain.Reply) int {
			return cmp.Or(cmp.Compare(a.TS, c.TS), cmp.Compare(a.ID, c.ID))
		})
	}
	if viewerID != "" {
		for _, l := range s.Likes {
			if l.UserID == viewerID {
				b.liked[l.TargetID] = struct{}{}
			}
		}
	}
	return b
}

func (b *builder) likedBy(id string) bool {
	_, ok := b.liked[id]
	return ok
}

// replies собирает прямых потомков parentID по возрастанию времени.
// Каждый ответ попадает в дерево не больше одного раза.
func (b *builder) replies(parentID string, depth int) []ReplyNode {
	if depth >= maxTreeDepth {
		return []ReplyNode{}
	}
	kids := b.children[parentID]
	out := make([]ReplyNode, 0, len(kids))
	for _, r := range kids {
		if _, seen := b.visited[r.ID]; seen {
			continue
		}
		b.visited[r.ID] = struct{}{}
		out = append(out, ReplyNode{
			Reply:       r,
			LikedByUser: b.likedBy(r.ID),
			Replies:     b.replies(r.ID, depth+1),
		})
	}
	return out
}

// Stream лениво отдаёт сообщения от новых к старым, каждое с деревом ответов.
// viewerID может быть пустым, тогда все отметки LikedByUser ложны.
func Stream(s Snapshot, viewerID string) iter.Seq[MessageNode] {
	return func(yield func(MessageNode) bool) {
		b := newBuilder(s, viewerID)
		messages := slices.Clone(s.Messages)
		slices.SortStableFunc(messages, func(a, c domain.Message) int {
			return cmp.Or(cmp.Compare(c.TS, a.TS), cmp.Compare(a.ID, c.ID))
		})
		for _, m := range messages {
			node := MessageNode{
				Message:     m,
				LikedByUser: b.likedBy(m.ID),
				Replies:     b.replies(m.ID, 0),
			}
			if !yield(node) {
				return
			}
		}
	}
}

// Build собирает всю ленту целиком.
func Build(s Snapshot, viewerID string) []MessageNode {
	return slices.Collect(Stream(s, viewerID))
}
