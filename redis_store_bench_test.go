package fetchq

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type benchEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func BenchmarkRedisStore_Push(b *testing.B) {
	st, _ := newMiniStore(b, RedisStoreConfig{})
	ctx := context.Background()
	e := benchEmail{To: "user@example.com", Subject: "hello", Body: "Hello now!"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := st.Push(ctx, "bench", e, Subject(fmt.Sprintf("doc-%d", i))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRedisStore_PickComplete(b *testing.B) {
	for _, batch := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("Batch%d", batch), func(b *testing.B) {
			st, _ := newMiniStore(b, RedisStoreConfig{})
			ctx := context.Background()
			e := benchEmail{To: "user@example.com", Subject: "hello"}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				for j := 0; j < batch; j++ {
					if _, err := st.Push(ctx, "bench", e, Subject(fmt.Sprintf("doc-%d-%d", i, j))); err != nil {
						b.Fatal(err)
					}
				}
				b.StartTimer()
				docs, err := st.Pick(ctx, "bench", 0, batch, time.Minute)
				if err != nil {
					b.Fatal(err)
				}
				for _, d := range docs {
					if err := st.Complete(ctx, "bench", d.Subject, nil); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
