package call

import (
	"fmt"
	"testing"
)

func TestLogEvictsOldestFirst(t *testing.T) {
	for _, limit := range []int{CaptionLimit, HistoryLimit} {
		l := NewLog[string](limit)
		for i := 0; i < limit*3; i++ {
			l.Append(fmt.Sprint(i))
			if l.Len() > limit {
				t.Fatalf("Len() = %d, exceeds limit %d", l.Len(), limit)
			}
		}
		items := l.Items()
		if items[0] != fmt.Sprint(limit*2) || items[len(items)-1] != fmt.Sprint(limit*3-1) {
			t.Fatalf("limit %d: items = %v", limit, items)
		}
	}
}

func TestLogItemsIsACopy(t *testing.T) {
	l := NewLog[int](2)
	l.Append(1)
	items := l.Items()
	items[0] = 99
	if l.Items()[0] != 1 {
		t.Fatalf("Items() aliases internal storage")
	}
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("Len() after Reset = %d", l.Len())
	}
}
