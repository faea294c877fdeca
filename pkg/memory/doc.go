// Package memory stores short text facts per user and retrieves them with hybrid search.
//
// Invariants:
// - Every live record has exactly one lexical entry and one vector entry sharing its row id.
// - Content hashes are unique among records that are not soft-deleted.
// - Soft-deleted records are invisible to search and hydration until purged.
// - Access counts only increase.
//
// Usage:
//
//	store, _ := memory.OpenStore(memory.StoreConfig{DBPath: "/data/mnemo.db", Dimension: 384})
//	defer store.Close()
//	svc := memory.NewService(memory.ServiceConfig{Store: store, Embedder: memory.NewHashEmbedder(384)})
//	res, _ := svc.Recall(ctx, memory.RecallParams{Query: "shoe size"})
//	_ = res
package memory
