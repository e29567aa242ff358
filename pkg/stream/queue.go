package stream

// chunkQueue is an ordered queue of pending chunks with a running total of
// declared lengths. It is owned exclusively by the engine that buffers
// into it; all access happens under the owner's lock.
type chunkQueue struct {
	chunks []Chunk
	head   int
	total  int
}

// push appends a chunk to the tail.
func (q *chunkQueue) push(c Chunk) {
	q.chunks = append(q.chunks, c)
	q.total += c.Len()
}

// unshift prepends a chunk at the head (used to put back an unread
// remainder after a partial byte-mode read).
func (q *chunkQueue) unshift(c Chunk) {
	if q.head > 0 {
		q.head--
		q.chunks[q.head] = c
	} else {
		q.chunks = append([]Chunk{c}, q.chunks[q.head:]...)
		q.head = 0
	}
	q.total += c.Len()
}

// shift removes and returns the head chunk.
func (q *chunkQueue) shift() (Chunk, bool) {
	if q.empty() {
		return Chunk{}, false
	}
	c := q.chunks[q.head]
	q.chunks[q.head] = Chunk{}
	q.head++
	q.total -= c.Len()
	q.compact()
	return c, true
}

// peek returns the head chunk without removing it.
func (q *chunkQueue) peek() (Chunk, bool) {
	if q.empty() {
		return Chunk{}, false
	}
	return q.chunks[q.head], true
}

// splice removes and concatenates up to n bytes from the head of a
// byte-mode queue, splitting the boundary chunk when it straddles n.
func (q *chunkQueue) splice(n int) Chunk {
	if n >= q.total {
		return q.concat()
	}
	head, _ := q.peek()
	if len(head.Bytes()) >= n {
		// Served entirely by the head chunk.
		q.shift()
		b := head.Bytes()
		if len(b) > n {
			q.unshift(BytesChunk(b[n:]).WithEncoding(head.Encoding()))
		}
		return BytesChunk(b[:n:n]).WithEncoding(head.Encoding())
	}

	out := make([]byte, 0, n)
	enc := head.Encoding()
	for n > 0 {
		c, ok := q.shift()
		if !ok {
			break
		}
		b := c.Bytes()
		if len(b) > n {
			out = append(out, b[:n]...)
			q.unshift(BytesChunk(b[n:]).WithEncoding(c.Encoding()))
			break
		}
		out = append(out, b...)
		n -= len(b)
	}
	return BytesChunk(out).WithEncoding(enc)
}

// concat removes everything and returns it as one chunk.
func (q *chunkQueue) concat() Chunk {
	if q.len() == 1 {
		c, _ := q.shift()
		return c
	}
	var enc Encoding
	if head, ok := q.peek(); ok {
		enc = head.Encoding()
	}
	out := make([]byte, 0, q.total)
	for {
		c, ok := q.shift()
		if !ok {
			break
		}
		out = append(out, c.Bytes()...)
	}
	return BytesChunk(out).WithEncoding(enc)
}

// retag stamps every buffered byte chunk with the given encoding.
func (q *chunkQueue) retag(enc Encoding) {
	for i := q.head; i < len(q.chunks); i++ {
		if !q.chunks[i].IsObject() {
			q.chunks[i] = q.chunks[i].WithEncoding(enc)
		}
	}
}

// drain discards all buffered chunks.
func (q *chunkQueue) drain() {
	q.chunks = nil
	q.head = 0
	q.total = 0
}

// len returns the number of buffered chunks.
func (q *chunkQueue) len() int { return len(q.chunks) - q.head }

// size returns the total declared length of buffered chunks.
func (q *chunkQueue) size() int { return q.total }

func (q *chunkQueue) empty() bool { return q.len() == 0 }

// compact reclaims the consumed prefix once it dominates the backing slice.
func (q *chunkQueue) compact() {
	if q.head == len(q.chunks) {
		q.chunks = q.chunks[:0]
		q.head = 0
		return
	}
	if q.head > 32 && q.head > len(q.chunks)/2 {
		n := copy(q.chunks, q.chunks[q.head:])
		for i := n; i < len(q.chunks); i++ {
			q.chunks[i] = Chunk{}
		}
		q.chunks = q.chunks[:n]
		q.head = 0
	}
}
