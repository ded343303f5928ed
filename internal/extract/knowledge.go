package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity/memoryengine/internal/types"
)

// KnowledgeExtractor derives entities, facts and relationships from
// messages (spec §4.4). The regex set below generalizes the teacher's
// context.Orchestrator.extractEntities idiom (ticket/PR/file/@mention/
// service-keyword extraction) to the full entity type set the spec
// requires; their exact string form is part of the observable contract
// (spec DESIGN NOTES "Regex determinism").
type KnowledgeExtractor struct {
	Now func() time.Time
}

func NewKnowledgeExtractor() *KnowledgeExtractor {
	return &KnowledgeExtractor{Now: time.Now}
}

func (k *KnowledgeExtractor) now() time.Time {
	if k.Now != nil {
		return k.Now()
	}
	return time.Now()
}

type entityPattern struct {
	entityType types.EntityType
	re         *regexp.Regexp
	// group is the capture group index holding the entity name (0 = whole match).
	group int
}

var entityPatterns = []entityPattern{
	{types.EntityFile, regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_/.-]*\.(?:go|ts|tsx|js|jsx|py|rs|json|yaml|yml|md|sql))\b`), 1},
	{types.EntityFunction, regexp.MustCompile(`\b(?:func|function|def)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`), 1},
	{types.EntityClass, regexp.MustCompile(`\b(?:class|struct|interface|type)\s+([A-Z][A-Za-z0-9_]*)\b`), 1},
	{types.EntityConcept, regexp.MustCompile(`\bconcept of ([a-zA-Z][a-zA-Z0-9 _-]{2,40})\b`), 1},
	{types.EntityDecision, regexp.MustCompile(`(?i)\b(?:decided to|chose to|going with) ([a-zA-Z0-9 _-]{3,60})`), 1},
	{types.EntityBug, regexp.MustCompile(`\b(BUG-\d+|#\d{2,6}|[A-Z]{2,10}-\d+)\b`), 1},
	{types.EntityFeature, regexp.MustCompile(`(?i)\bfeature[: ]+([a-zA-Z0-9 _-]{3,60})`), 1},
	{types.EntityPerson, regexp.MustCompile(`@([a-zA-Z][a-zA-Z0-9_-]+)`), 1},
	{types.EntityTool, regexp.MustCompile(`(?i)\b(docker|kubernetes|git|npm|go|python|terraform|jira|github|slack|postgres|redis|kafka)\b`), 1},
	{types.EntityConfig, regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,40})\s*=`), 1},
	{types.EntityDependency, regexp.MustCompile(`\b([a-z0-9-]+(?:/[a-z0-9._-]+)+)@[\w.\-]+\b`), 1},
}

var commonWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true,
	"this": true, "that": true, "from": true, "are": true,
	"used": true, "using": true, "into": true,
}

// Extract scans messages and returns deduplicated entities with merged
// mentions/relationships.
func (k *KnowledgeExtractor) Extract(messages []types.ConversationMessage) []types.ExtractedEntity {
	byKey := make(map[string]*types.ExtractedEntity)
	order := make([]string, 0)

	for _, m := range messages {
		for _, pat := range entityPatterns {
			for _, match := range pat.re.FindAllStringSubmatchIndex(m.Content, -1) {
				start, end := match[2*pat.group], match[2*pat.group+1]
				if start < 0 {
					start, end = match[0], match[1]
				}
				name := m.Content[start:end]
				if commonWords[strings.ToLower(name)] {
					continue
				}
				key := string(pat.entityType) + "::" + strings.ToLower(name)
				ctxStart, ctxEnd := windowAround(m.Content, start, end, 30)
				mention := types.EntityMention{
					TurnNumber:  m.TurnNumber,
					StartOffset: start,
					EndOffset:   end,
					Context:     m.Content[ctxStart:ctxEnd],
				}
				if existing, ok := byKey[key]; ok {
					existing.Mentions = append(existing.Mentions, mention)
					existing.UpdatedAt = k.now()
				} else {
					e := &types.ExtractedEntity{
						ID:        uuid.New().String(),
						Name:      name,
						Type:      pat.entityType,
						Mentions:  []types.EntityMention{mention},
						CreatedAt: k.now(),
						UpdatedAt: k.now(),
					}
					byKey[key] = e
					order = append(order, key)
				}
			}
		}
	}

	entities := make([]*types.ExtractedEntity, 0, len(order))
	for _, key := range order {
		entities = append(entities, byKey[key])
	}
	k.attachRelationships(messages, entities)

	out := make([]types.ExtractedEntity, len(entities))
	for i, e := range entities {
		out[i] = *e
	}
	return out
}

// attachRelationships emits a related_to edge for every entity pair
// co-occurring within a 60-char context window, refined to a specific verb
// relation on the first matching pattern, deduped by (from, type, to)
// (spec §4.4).
func (k *KnowledgeExtractor) attachRelationships(messages []types.ConversationMessage, entities []*types.ExtractedEntity) {
	type occurrence struct {
		entity *types.ExtractedEntity
		start  int
	}
	seenEdge := make(map[string]bool)

	for _, m := range messages {
		var occs []occurrence
		for _, e := range entities {
			for _, mention := range e.Mentions {
				if mention.TurnNumber == m.TurnNumber {
					occs = append(occs, occurrence{entity: e, start: mention.StartOffset})
				}
			}
		}
		for i := 0; i < len(occs); i++ {
			for j := 0; j < len(occs); j++ {
				if i == j {
					continue
				}
				if abs(occs[i].start-occs[j].start) > 60 {
					continue
				}
				from, to := occs[i].entity, occs[j].entity
				if from.ID == to.ID {
					continue
				}
				relType := refineRelation(m.Content, from.Name, to.Name)
				edgeKey := from.ID + "::" + string(relType) + "::" + to.ID
				if seenEdge[edgeKey] {
					continue
				}
				seenEdge[edgeKey] = true
				from.Relationships = append(from.Relationships, types.EntityRelationship{
					FromEntityID: from.ID, ToEntityID: to.ID, Type: relType, Weight: 1.0,
				})
			}
		}
	}
}

var relationVerbs = []struct {
	re   *regexp.Regexp
	kind types.RelationType
}{
	{regexp.MustCompile(`(?i)\bimports?\b`), types.RelImports},
	{regexp.MustCompile(`(?i)\bextends?\b`), types.RelExtends},
	{regexp.MustCompile(`(?i)\bimplements?\b`), types.RelImplements},
	{regexp.MustCompile(`(?i)\buses?\b`), types.RelUses},
	{regexp.MustCompile(`(?i)\bcalls?\b`), types.RelCalls},
	{regexp.MustCompile(`(?i)\bcreates?\b`), types.RelCreates},
	{regexp.MustCompile(`(?i)\bmodifies|modified\b`), types.RelModifies},
	{regexp.MustCompile(`(?i)\bdepends on\b`), types.RelDependsOn},
	{regexp.MustCompile(`(?i)\bcontains?\b`), types.RelContains},
	{regexp.MustCompile(`(?i)\bpart of\b`), types.RelPartOf},
}

func refineRelation(content, from, to string) types.RelationType {
	idxFrom := strings.Index(content, from)
	idxTo := strings.Index(content, to)
	lo, hi := idxFrom, idxTo
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 {
		return types.RelRelatedTo
	}
	window := content[lo:min(hi+len(to), len(content))]
	for _, rv := range relationVerbs {
		if rv.re.MatchString(window) {
			return rv.kind
		}
	}
	return types.RelRelatedTo
}

var factMarkerRe = regexp.MustCompile(`(?i)^(?:note|important|remember|key point):\s*(.+)`)
var blockquoteRe = regexp.MustCompile(`^>\s*(.+)`)
var boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)

// ExtractFacts scans assistant lines for markers, blockquotes, or bold
// spans longer than 10 chars (spec §4.4). Confidence is fixed at 0.8;
// category is inferred from keywords.
func (k *KnowledgeExtractor) ExtractFacts(messages []types.ConversationMessage) []types.LearnedFact {
	var facts []types.LearnedFact
	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			line = strings.TrimSpace(line)
			var content string
			if match := factMarkerRe.FindStringSubmatch(line); match != nil {
				content = match[1]
			} else if match := blockquoteRe.FindStringSubmatch(line); match != nil {
				content = match[1]
			} else if match := boldRe.FindStringSubmatch(line); match != nil && len(match[1]) > 10 {
				content = match[1]
			}
			if content == "" {
				continue
			}
			facts = append(facts, types.LearnedFact{
				ID:         uuid.New().String(),
				Content:    content,
				Source:     "assistant",
				Confidence: 0.8,
				Category:   inferCategory(content),
				Timestamp:  m.Timestamp,
			})
		}
	}
	return facts
}

var categoryKeywords = map[string][]string{
	"troubleshooting": {"error", "bug", "fix", "issue", "fail"},
	"performance":     {"latency", "slow", "throughput", "performance", "optimize"},
	"security":        {"auth", "security", "vulnerab", "encrypt", "token"},
	"api":             {"endpoint", "api", "request", "response", "route"},
	"configuration":   {"config", "env", "setting", "flag"},
}

func inferCategory(content string) string {
	lower := strings.ToLower(content)
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return "general"
}

func windowAround(s string, start, end, radius int) (int, int) {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(s) {
		hi = len(s)
	}
	return lo, hi
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
