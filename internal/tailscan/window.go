package tailscan

// DefaultWindow 는 tail scan 이 들여다보는 최대 라인 수.
const DefaultWindow = 500

type slot struct {
	raw  []byte
	text string
}

// Window
//
// 최근 N 라인만 보관하는 고정 용량 ring buffer.
// 가득 찬 상태에서 Push 하면 가장 오래된 라인이 밀려난다.
// slot 의 raw 슬라이스는 재사용되므로 Push 마다 재할당하지 않는다.
type Window struct {
	slots []slot
	start int // 가장 오래된 라인 위치
	size  int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Window{slots: make([]slot, capacity)}
}

// Push 는 raw 를 복사해 보관한다.
func (w *Window) Push(raw []byte, text string) {
	var idx int
	if w.size < len(w.slots) {
		idx = (w.start + w.size) % len(w.slots)
		w.size++
	} else {
		idx = w.start
		w.start = (w.start + 1) % len(w.slots)
	}

	s := &w.slots[idx]
	s.raw = append(s.raw[:0], raw...)
	s.text = text
}

func (w *Window) Len() int { return w.size }
func (w *Window) Cap() int { return len(w.slots) }

// Text 는 i 번째(0 = 가장 오래된) 라인의 정규화된 텍스트.
func (w *Window) Text(i int) string {
	return w.slots[w.index(i)].text
}

// Raw 는 i 번째 라인의 원본 바이트.
func (w *Window) Raw(i int) []byte {
	return w.slots[w.index(i)].raw
}

func (w *Window) index(i int) int {
	if i < 0 || i >= w.size {
		panic("tailscan: window index out of range")
	}
	return (w.start + i) % len(w.slots)
}
