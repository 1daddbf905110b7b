package index

import (
	"sync"

	"github.com/conclavehq/conclave/internal/rag/parser/markdown"
	"github.com/conclavehq/conclave/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
