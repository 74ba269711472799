package permset

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmined/syftsync/internal/utils"
)

const defaultCacheSize = 4096

// Evaluator holds the compiled rules of every known permission file, indexed
// by owning directory, and answers permission checks. Computed permissions
// are cached per (user, path) and the cache is dropped on any rule mutation.
type Evaluator struct {
	mu    sync.RWMutex
	rules map[string][]*CompiledRule // permfile dir -> its rules
	cache *lru.Cache[string, *Computed]
}

func NewEvaluator() *Evaluator {
	cache, _ := lru.New[string, *Computed](defaultCacheSize)
	return &Evaluator{
		rules: make(map[string][]*CompiledRule),
		cache: cache,
	}
}

// SetFile replaces the rules for one permission file.
func (e *Evaluator) SetFile(f *File) {
	e.SetRules(f.DirPath(), Compile(f))
}

// SetRules replaces the rules owned by a permission-file directory.
func (e *Evaluator) SetRules(dir string, rules []*CompiledRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[utils.NormPath(dir)] = rules
	e.cache.Purge()
}

// RemoveRules drops the rules owned by a permission-file directory.
func (e *Evaluator) RemoveRules(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, utils.NormPath(dir))
	e.cache.Purge()
}

// RulesFor gathers the rules of every permission file whose directory is an
// ancestor of path (or the path's own directory), in evaluation order.
func (e *Evaluator) RulesFor(path string) []*CompiledRule {
	path = utils.NormPath(path)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var gathered []*CompiledRule
	for dir, rules := range e.rules {
		if dir == "" || strings.HasPrefix(path, dir+"/") {
			gathered = append(gathered, rules...)
		}
	}
	SortRules(gathered)
	return gathered
}

// Evaluate computes (and caches) the effective permissions of user on path.
func (e *Evaluator) Evaluate(user, path string) *Computed {
	path = utils.NormPath(path)
	key := user + "\x00" + path

	if c, ok := e.cache.Get(key); ok {
		return c
	}

	c := Evaluate(e.RulesFor(path), user, path)
	e.cache.Add(key, c)
	return c
}

// Can reports whether user may perform an operation requiring kind on path.
func (e *Evaluator) Can(user, path string, kind Kind) bool {
	return e.Evaluate(user, path).Has(kind)
}
