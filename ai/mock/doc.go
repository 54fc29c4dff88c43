// Package mock provides test doubles for the ai package.
//
// MockEmbedder returns deterministic unit vectors derived from an FNV hash of
// the text, so equal texts always embed identically. It counts calls and
// embedded texts, which lets pipeline tests assert how much work a resumed
// job repeated.
//
//	embedder := mock.NewMockEmbedderWithDimension(8)
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("provider down")
//	}
package mock
