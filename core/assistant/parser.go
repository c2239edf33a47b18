package assistant

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core/workorder"
)

// Commands are written in English or Greek, e.g.
//
//	create a task in #Garden Care for @John Smith tomorrow at 3pm
//	φτιάξε μία εργασία 'Πότισμα φυτών' για αύριο στις 3μμ
//
// Words are matched on whole tokens so Greek text gets the same treatment as English.

const (
	maxEntityLen   = 31
	maxTitleWords  = 5
	defaultTitle   = "New Task"
	minTitleLength = 3
)

// phrase matches `lead [filler] tail`; filler is optional, tail may be empty.
type phrase struct {
	lead, filler, tail []string
}

func (p phrase) matchAt(ws []string, i int) int {
	if i >= len(ws) || !contains(p.lead, ws[i]) {
		return 0
	}
	n := 1
	if len(p.tail) == 0 {
		return n
	}
	if i+n < len(ws) && contains(p.filler, ws[i+n]) {
		n++
	}
	if i+n < len(ws) && contains(p.tail, ws[i+n]) {
		return n + 1
	}
	return 0
}

func (p phrase) in(ws []string) bool {
	for i := range ws {
		if p.matchAt(ws, i) > 0 {
			return true
		}
	}
	return false
}

var (
	createPhrases = []phrase{
		{lead: fields("create add make schedule"), filler: fields("a an new"), tail: fields("task")},
		{lead: fields("new"), tail: fields("task")},
		{lead: fields("δημιούργησε κάνε προγραμμάτισε φτιάξε"), filler: fields("μία μια νέα"), tail: fields("εργασία")},
		{lead: fields("προσθήκη"), filler: fields("μίας μιας νέας"), tail: fields("εργασίας")},
		{lead: fields("νέα"), tail: fields("εργασία")},
	}
	updatePhrases = []phrase{
		{lead: fields("update modify change edit"), filler: fields("the a"), tail: fields("task")},
		{lead: fields("ενημέρωση τροποποίηση αλλαγή επεξεργασία"), filler: fields("της"), tail: fields("εργασίας")},
	}

	taskNouns   = fields("task εργασία εργασίας εργασίες")
	connectors  = fields("for in with about για σε με στον στην στο")
	actionWords = fields("create add make schedule update modify δημιούργησε προσθήκη κάνε προγραμμάτισε φτιάξε ενημέρωση τροποποίηση")

	// checked in order, the first level found wins
	priorityLevels = []struct {
		priority workorder.Priority
		phrases  [][]string
	}{
		{workorder.PriorityUrgent, seqs("urgent", "asap", "immediately", "critical",
			"επείγον", "επείγουσα", "επείγουσας", "άμεσα", "κρίσιμο", "επειγόντως")},
		{workorder.PriorityHigh, seqs("high priority", "important", "high",
			"υψηλή προτεραιότητα", "σημαντικό", "υψηλό", "υψηλή")},
		{workorder.PriorityNormal, seqs("medium priority", "normal priority", "normal", "medium",
			"μεσαία προτεραιότητα", "κανονικό", "μεσαίο")},
		{workorder.PriorityLow, seqs("low priority", "low", "when possible",
			"χαμηλή προτεραιότητα", "χαμηλό", "χαμηλή", "όταν είναι δυνατό")},
	}

	dueKeywords   = fields("due by deadline until μέχρι έως προθεσμία")
	startKeywords = fields("start starts starting begin begins from από έναρξη ξεκινά")
	dateFillers   = fields("on the την τη")

	relativeDays = map[string]int{"today": 0, "tomorrow": 1, "σήμερα": 0, "αύριο": 1}
	weekdays     = map[string]time.Weekday{
		"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
		"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
		"δευτέρα": time.Monday, "τρίτη": time.Tuesday, "τετάρτη": time.Wednesday,
		"πέμπτη": time.Thursday, "παρασκευή": time.Friday, "σάββατο": time.Saturday, "κυριακή": time.Sunday,
	}
	nextWords = fields("next επόμενη")
	weekWords = fields("week εβδομάδα")

	// an entity value ends before one of these words
	entityStops = fields("for in with due at by on from about until για σε με μέχρι στις στο στον στην από")

	titleStopWords = fields("create add new make schedule update modify change edit task title priority " +
		"for in with about due at on by a an the and " +
		"ενημέρωση τροποποίηση αλλαγή επεξεργασία προτεραιότητα δημιούργησε προσθήκη νέα κάνε προγραμμάτισε φτιάξε εργασία εργασίας για σε με μέχρι στις στο στον στην μία μια ένα το η ο και")

	clockRegex    = regexp.MustCompile(`(?:^|[^\d:])(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.|πμ|μμ|π\.μ\.|μ\.μ\.)(?:[^\p{L}]|$)`)
	clock24Regex  = regexp.MustCompile(`(?:^|[^\d:])(\d{1,2}):(\d{2})(?:[^\d]|$)`)
	timeWordRegex = regexp.MustCompile(`^\d{1,2}(:\d{2})?(am|pm|a\.m|p\.m|πμ|μμ)?$`)
	meridiemWords = fields("am pm a.m p.m πμ μμ π.μ μ.μ")
	hoursRegex    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:hours|hour|hrs|hr|h|ώρες|ώρας|ώρα)(?:[^\p{L}]|$)`)
	hourWords     = fields("hours hour hrs hr h ώρες ώρας ώρα")
	quotedRegex   = regexp.MustCompile(`(?:^|\s)["'‘“«]([^"“”«»]+?)["'’”»](?:[\s,.;!?]|$)`)
	descRegex     = regexp.MustCompile(`(?i)(?:description|details?|notes?|περιγραφή|σημειώσεις):\s*["']?([^"']+)["']?`)
)

// Parse turns a task command into an Operation.
// Relative dates are resolved against now in loc; a due date without a time of day is all-day.
func Parse(text string, now time.Time, loc *time.Location) Operation {
	if loc == nil {
		loc = time.UTC
	}
	text = strings.TrimSpace(text)
	entities := extractEntities(text)

	// everything but the entity references
	plain := removeSpans(text, entities)
	descAt := len(plain)
	if m := descRegex.FindStringIndex(plain); m != nil {
		descAt = m[0]
	}
	lower := strings.ToLower(plain[:descAt])
	ws := words(lower)

	op := Operation{
		Intent:      detectIntent(ws),
		Description: extractDescription(text),
		Entities:    entities,
		Assignees:   []string{},
	}
	op.Priority, _ = detectPriority(ws)
	for _, e := range entities {
		switch e.Type {
		case EntityPersonnel:
			op.Assignees = append(op.Assignees, e.Value)
		case EntityWorkOrder:
			op.WorkOrder = firstNonEmpty(op.WorkOrder, e.Value)
		case EntityTask:
			op.Task = firstNonEmpty(op.Task, e.Value)
		case EntityProject:
			op.Project = firstNonEmpty(op.Project, e.Value)
		case EntityClient:
			op.Client = firstNonEmpty(op.Client, e.Value)
		}
	}
	op.Title = extractTitle(text, plain[:descAt], entities)
	op.EstimatedHours = extractHours(lower)
	op.DueDate, op.StartDate, op.AllDay = extractDates(ws, lower, now.In(loc))
	op.Confidence = confidence(words(strings.ToLower(text)), op.Intent, len(entities))
	return op
}

func detectIntent(ws []string) Intent {
	for _, p := range createPhrases {
		if p.in(ws) {
			return IntentCreateTask
		}
	}
	for _, p := range updatePhrases {
		if p.in(ws) {
			return IntentUpdateTask
		}
	}
	if containsAny(ws, taskNouns) && containsAny(ws, connectors) {
		return IntentCreateTask
	}
	return IntentUnknown
}

// detectPriority returns the priority and which words expressed it.
func detectPriority(ws []string) (workorder.Priority, []bool) {
	used := make([]bool, len(ws))
	for _, level := range priorityLevels {
		found := false
		for _, seq := range level.phrases {
			if markSeq(ws, seq, used) {
				found = true
			}
		}
		if found {
			return level.priority, used
		}
	}
	return workorder.PriorityNormal, used
}

func extractEntities(text string) []Entity {
	entities := []Entity{}
	for i, r := range text {
		typ, ok := entitySymbols[r]
		if !ok {
			continue
		}
		if i > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:i])
			if !unicode.IsSpace(prev) && !strings.ContainsRune(`("'`, prev) {
				continue // e-mail addresses, paths, sums
			}
		}
		start := i + utf8.RuneLen(r)
		end := entityEnd(text, start)
		value := strings.TrimRight(text[start:end], " \t.-")
		if value == "" {
			continue
		}
		entities = append(entities, Entity{
			Type:   typ,
			Symbol: string(r),
			Value:  value,
			Start:  i,
			End:    start + len(value),
		})
	}
	return entities
}

func entityEnd(text string, start int) int {
	first, _ := utf8.DecodeRuneInString(text[start:])
	if !isWordRune(first) {
		return start
	}
	n := 0
	for j, r := range text[start:] {
		pos := start + j
		if n == maxEntityLen {
			if !isWordRune(r) {
				return pos
			}
			if k := strings.LastIndexFunc(text[start:pos], unicode.IsSpace); k > 0 {
				return start + k
			}
			return pos
		}
		if !isWordRune(r) && !unicode.IsSpace(r) && r != '-' && r != '.' {
			return pos
		}
		if unicode.IsSpace(r) && endsEntity(text[pos:]) {
			return pos
		}
		n++
	}
	return len(text)
}

// endsEntity reports whether rest starts with a connector, a date or a time.
func endsEntity(rest string) bool {
	ws := words(strings.ToLower(rest))
	if len(ws) == 0 {
		return true
	}
	if contains(entityStops, ws[0]) || (timeWordRegex.MatchString(ws[0]) && !isNumber(ws[0])) {
		return true
	}
	return datePhraseLen(ws, 0) > 0
}

func removeSpans(text string, entities []Entity) string {
	if len(entities) == 0 {
		return text
	}
	spans := append([]Entity(nil), entities...)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	last := 0
	for _, e := range spans {
		if e.Start < last {
			continue
		}
		b.WriteString(text[last:e.Start])
		b.WriteByte(' ')
		last = e.End
	}
	b.WriteString(text[last:])
	return b.String()
}

func extractTitle(text, plain string, entities []Entity) string {
	if m := quotedRegex.FindStringSubmatch(text); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			return title
		}
	}

	raw := strings.Fields(plain)
	ws := make([]string, len(raw))
	for i, w := range raw {
		ws[i] = trimWord(strings.ToLower(w))
	}
	_, drop := detectPriority(ws)
	for i := 0; i < len(ws); i++ {
		if n := datePhraseLen(ws, i); n > 0 {
			for k := i; k < i+n; k++ {
				drop[k] = true
			}
			i += n - 1
			continue
		}
		w := ws[i]
		switch {
		case w == "", contains(titleStopWords, w), contains(dueKeywords, w), contains(startKeywords, w):
			drop[i] = true
		case contains(meridiemWords, w), timeWordRegex.MatchString(w) && !isNumber(w):
			drop[i] = true
		case isDecimal(w) && i+1 < len(ws) && (contains(hourWords, ws[i+1]) || contains(meridiemWords, ws[i+1])):
			drop[i], drop[i+1] = true, true
			i++
		case hoursRegex.MatchString(w) && hoursRegex.FindString(w) == w:
			drop[i] = true
		}
	}

	kept := make([]string, 0, maxTitleWords)
	for i, w := range raw {
		if drop[i] {
			continue
		}
		if w = strings.Trim(w, ",;!?"); w != "" {
			kept = append(kept, w)
		}
	}
	clean := strings.Join(kept, " ")
	if utf8.RuneCountInString(clean) >= minTitleLength && !isNumber(clean) {
		if len(kept) > maxTitleWords {
			kept = kept[:maxTitleWords]
		}
		return strings.Join(kept, " ")
	}

	for _, e := range entities {
		switch e.Type {
		case EntityWorkOrder, EntityProject, EntityClient:
			if utf8.RuneCountInString(e.Value) >= minTitleLength {
				return e.Value
			}
		}
	}

	for _, w := range raw {
		lw := trimWord(strings.ToLower(w))
		if utf8.RuneCountInString(lw) > 3 &&
			!contains(titleStopWords, lw) &&
			!timeWordRegex.MatchString(lw) &&
			datePhraseLen([]string{lw}, 0) == 0 &&
			!isPriorityWord(lw) {
			return trimWord(w)
		}
	}
	return defaultTitle
}

func extractDescription(text string) string {
	if m := descRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func extractHours(lower string) null.Float64 {
	m := hoursRegex.FindStringSubmatch(lower)
	if m == nil {
		return null.Float64{}
	}
	hours, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return null.Float64{}
	}
	return null.Float64From(hours)
}

// extractClock finds a time of day such as 3pm, 9:30 am, 14:30 or 3μμ.
func extractClock(lower string) (hour, minute int, ok bool) {
	if m := clockRegex.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		pm := strings.HasPrefix(m[3], "p") || strings.HasPrefix(m[3], "μ")
		switch {
		case hour > 12:
			// "15pm", keep it as written
		case pm && hour != 12:
			hour += 12
		case !pm && hour == 12:
			hour = 0
		}
		if hour <= 23 && minute <= 59 {
			return hour, minute, true
		}
	}
	if m := clock24Regex.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour <= 23 && minute <= 59 {
			return hour, minute, true
		}
	}
	return 0, 0, false
}

// datePhraseLen returns how many words starting at i form a date, 0 if none.
func datePhraseLen(ws []string, i int) int {
	if i >= len(ws) {
		return 0
	}
	if contains(nextWords, ws[i]) && i+1 < len(ws) {
		if _, ok := weekdays[ws[i+1]]; ok || contains(weekWords, ws[i+1]) {
			return 2
		}
	}
	if _, ok := relativeDays[ws[i]]; ok {
		return 1
	}
	if _, ok := weekdays[ws[i]]; ok {
		return 1
	}
	return 0
}

// dateAt resolves the date phrase starting at i to local midnight.
func dateAt(ws []string, i int, today time.Time) (time.Time, int) {
	n := datePhraseLen(ws, i)
	days := 0
	switch {
	case n == 0:
		return time.Time{}, 0
	case n == 2 && contains(weekWords, ws[i+1]):
		days = 7
	case n == 2:
		days = 7 + daysUntil(today.Weekday(), weekdays[ws[i+1]])
	default:
		if d, ok := relativeDays[ws[i]]; ok {
			days = d
		} else {
			days = daysUntil(today.Weekday(), weekdays[ws[i]])
		}
	}
	y, m, d := today.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, today.Location()), n
}

// daysUntil counts the days to the next `to`, a week when today is `to`.
func daysUntil(from, to time.Weekday) int {
	days := int(to - from)
	if days <= 0 {
		days += 7
	}
	return days
}

// dateAfter finds a date introduced by one of keywords, e.g. "due friday".
func dateAfter(ws, keywords []string, today time.Time) (day time.Time, at, n int) {
	for i, w := range ws {
		if !contains(keywords, w) {
			continue
		}
		j := i + 1
		if j < len(ws) && contains(dateFillers, ws[j]) {
			j++
		}
		if day, n := dateAt(ws, j, today); n > 0 {
			return day, j, n
		}
	}
	return time.Time{}, -1, 0
}

func extractDates(ws []string, lower string, now time.Time) (due, start null.Time, allDay bool) {
	hour, minute, hasClock := extractClock(lower)
	withClock := func(day time.Time) time.Time {
		if !hasClock {
			return day
		}
		y, m, d := day.Date()
		return time.Date(y, m, d, hour, minute, 0, 0, day.Location())
	}

	startDay, startAt, startLen := dateAfter(ws, startKeywords, now)
	if startLen > 0 {
		start = null.TimeFrom(withClock(startDay))
	}

	dueDay, _, dueLen := dateAfter(ws, dueKeywords, now)
	for i := 0; dueLen == 0 && i < len(ws); i++ {
		if startLen > 0 && i >= startAt && i < startAt+startLen {
			continue
		}
		dueDay, dueLen = dateAt(ws, i, now)
	}

	switch {
	case dueLen > 0:
		due = null.TimeFrom(withClock(dueDay))
		allDay = !hasClock
	case hasClock && startLen == 0:
		// a bare time means its next occurrence
		y, m, d := now.Date()
		at := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
		}
		due = null.TimeFrom(at)
	}
	return due, start, allDay
}

func confidence(ws []string, intent Intent, entities int) float64 {
	c := 0.0
	if intent != IntentUnknown {
		c += 0.4
	}
	c += math.Min(0.3, float64(entities)*0.1)
	if containsAny(ws, taskNouns) {
		c += 0.2
	}
	if containsAny(ws, actionWords) {
		c += 0.1
	}
	return math.Round(math.Min(1, c)*100) / 100
}

func isPriorityWord(w string) bool {
	for _, level := range priorityLevels {
		for _, seq := range level.phrases {
			if len(seq) == 1 && seq[0] == w {
				return true
			}
		}
	}
	return false
}

// helpers

func fields(s string) []string { return strings.Fields(s) }

func seqs(ss ...string) [][]string {
	out := make([][]string, len(ss))
	for i, s := range ss {
		out[i] = strings.Fields(s)
	}
	return out
}

// words splits lower cased text into words stripped of surrounding punctuation.
func words(s string) []string {
	raw := strings.Fields(s)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		if w = trimWord(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func trimWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool { return !isWordRune(r) })
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isDecimal(s string) bool {
	return isNumber(strings.NewReplacer(".", "", ",", "").Replace(s))
}

func contains(set []string, w string) bool {
	for _, s := range set {
		if s == w {
			return true
		}
	}
	return false
}

func containsAny(ws, set []string) bool {
	for _, w := range ws {
		if contains(set, w) {
			return true
		}
	}
	return false
}

// markSeq marks every occurrence of seq in ws.
func markSeq(ws, seq []string, used []bool) bool {
	found := false
	for i := 0; i+len(seq) <= len(ws); i++ {
		match := true
		for k, s := range seq {
			if ws[i+k] != s {
				match = false
				break
			}
		}
		if match {
			found = true
			for k := range seq {
				used[i+k] = true
			}
		}
	}
	return found
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
