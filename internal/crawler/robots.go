package crawler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRobotsTimeout = 5 * time.Second
	maxCrawlDelay        = 5 * time.Second
	maxRobotsBytes       = 512 * 1024
)

// RobotsPolicy answers robots.txt questions for one crawl run.
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, target *url.URL, userAgent string) bool
	CrawlDelay(host, userAgent string) time.Duration
}

type robotsGroup struct {
	allows     []robotsRule
	disallows  []robotsRule
	crawlDelay time.Duration
}

// robotsRule is a path prefix, or an anchored pattern when the rule uses the
// '*' or '$' extensions.
type robotsRule struct {
	path    string
	pattern *regexp.Regexp
}

func (r robotsRule) matches(pathValue string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(pathValue)
	}
	return strings.HasPrefix(pathValue, r.path)
}

type robotsRuleset struct {
	groups map[string]*robotsGroup
}

// robotsCache fetches robots.txt once per host and keeps it for the run.
// A nil ruleset in the cache means "allow all".
type robotsCache struct {
	fetcher      Fetcher
	timeout      time.Duration
	maxRedirects int
	logger       logrus.FieldLogger
	note         func(Diagnostic)

	mu     sync.RWMutex
	rules  map[string]*robotsRuleset
	flight singleflight.Group
}

func newRobotsCache(fetcher Fetcher, timeout time.Duration, maxRedirects int, logger logrus.FieldLogger, note func(Diagnostic)) *robotsCache {
	if timeout <= 0 {
		timeout = defaultRobotsTimeout
	}
	if note == nil {
		note = func(Diagnostic) {}
	}
	return &robotsCache{
		fetcher:      fetcher,
		timeout:      timeout,
		maxRedirects: maxRedirects,
		logger:       logger,
		note:         note,
		rules:        map[string]*robotsRuleset{},
	}
}

// IsAllowed reports whether userAgent may fetch target.
func (rc *robotsCache) IsAllowed(ctx context.Context, target *url.URL, userAgent string) bool {
	if target == nil {
		return true
	}
	host := strings.ToLower(target.Host)
	if host == "" {
		return true
	}
	group := rc.rulesFor(ctx, target.Scheme, host).group(userAgent)
	if group == nil {
		return true
	}

	pathValue := target.EscapedPath()
	if pathValue == "" {
		pathValue = "/"
	}
	if target.RawQuery != "" {
		pathValue += "?" + target.RawQuery
	}
	return group.Allowed(pathValue)
}

// CrawlDelay returns the cached crawl-delay for host. It never fetches.
func (rc *robotsCache) CrawlDelay(host, userAgent string) time.Duration {
	rc.mu.RLock()
	rules := rc.rules[strings.ToLower(host)]
	rc.mu.RUnlock()
	group := rules.group(userAgent)
	if group == nil {
		return 0
	}
	return min(group.crawlDelay, maxCrawlDelay)
}

func (rc *robotsCache) rulesFor(ctx context.Context, scheme, host string) *robotsRuleset {
	rc.mu.RLock()
	rules, ok := rc.rules[host]
	rc.mu.RUnlock()
	if ok {
		return rules
	}

	v, _, _ := rc.flight.Do(host, func() (any, error) {
		rc.mu.RLock()
		rules, ok := rc.rules[host]
		rc.mu.RUnlock()
		if ok {
			return rules, nil
		}
		rules, err := rc.fetchRobots(ctx, scheme, host)
		if err != nil {
			rc.logger.WithError(err).WithField("host", host).Debug("robots.txt unavailable, allowing all")
			rc.note(Diagnostic{URL: scheme + "://" + host + "/robots.txt", Kind: diagRobots, Message: err.Error()})
		}
		rc.mu.Lock()
		rc.rules[host] = rules
		rc.mu.Unlock()
		return rules, nil
	})
	rules, _ = v.(*robotsRuleset)
	return rules
}

func (rc *robotsCache) fetchRobots(ctx context.Context, scheme, host string) (*robotsRuleset, error) {
	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	resp, _, err := fetchFollowing(ctx, rc.fetcher, FetchRequest{
		URL:      robotsURL,
		Method:   http.MethodGet,
		Timeout:  rc.timeout,
		ReadBody: true,
	}, rc.maxRedirects)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRobotsFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrRobotsFetch, resp.StatusCode)
	}
	body := resp.Body
	if len(body) > maxRobotsBytes {
		body = body[:maxRobotsBytes]
	}
	return parseRobots(body), nil
}

func parseRobots(payload []byte) *robotsRuleset {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	rules := &robotsRuleset{groups: make(map[string]*robotsGroup)}
	var currentAgents []string
	hadDirective := false

	groupsFor := func(agents []string) []*robotsGroup {
		out := make([]*robotsGroup, 0, len(agents))
		for _, agent := range agents {
			group := rules.groups[agent]
			if group == nil {
				group = &robotsGroup{}
				rules.groups[agent] = group
			}
			out = append(out, group)
		}
		return out
	}

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			if hadDirective {
				currentAgents = nil
				hadDirective = false
			}
			currentAgents = append(currentAgents, strings.ToLower(value))
		case "allow", "disallow":
			if len(currentAgents) == 0 {
				continue
			}
			hadDirective = true
			rule, ok := compileRobotsRule(value)
			groups := groupsFor(currentAgents)
			if !ok {
				continue
			}
			for _, group := range groups {
				if key == "allow" {
					group.allows = append(group.allows, rule)
				} else {
					group.disallows = append(group.disallows, rule)
				}
			}
		case "crawl-delay":
			if len(currentAgents) == 0 {
				continue
			}
			hadDirective = true
			seconds, err := strconv.ParseFloat(value, 64)
			if err != nil || seconds < 0 {
				continue
			}
			for _, group := range groupsFor(currentAgents) {
				group.crawlDelay = time.Duration(seconds * float64(time.Second))
			}
		}
	}
	return rules
}

func (rs *robotsRuleset) group(userAgent string) *robotsGroup {
	if rs == nil {
		return nil
	}
	agent := strings.ToLower(strings.TrimSpace(userAgent))
	baseAgent := strings.Split(agent, "/")[0]
	if group, ok := rs.groups[baseAgent]; ok {
		return group
	}
	if group, ok := rs.groups[agent]; ok {
		return group
	}
	if group, ok := rs.groups["*"]; ok {
		return group
	}
	return nil
}

func compileRobotsRule(value string) (robotsRule, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return robotsRule{}, false
	}
	if !strings.HasPrefix(cleaned, "/") && !strings.HasPrefix(cleaned, "*") {
		cleaned = "/" + cleaned
	}
	rule := robotsRule{path: cleaned}
	if !strings.ContainsAny(cleaned, "*$") {
		return rule, true
	}
	anchored := strings.HasSuffix(cleaned, "$")
	body := strings.TrimSuffix(cleaned, "$")
	pieces := strings.Split(body, "*")
	for i, piece := range pieces {
		pieces[i] = regexp.QuoteMeta(piece)
	}
	expr := "^" + strings.Join(pieces, ".*")
	if anchored {
		expr += "$"
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return robotsRule{}, false
	}
	rule.pattern = pattern
	return rule, true
}

// Allowed applies longest-match precedence; ties favour Allow.
func (rg *robotsGroup) Allowed(pathValue string) bool {
	if rg == nil {
		return true
	}
	allowMatch := matchLongest(pathValue, rg.allows)
	disallowMatch := matchLongest(pathValue, rg.disallows)

	if disallowMatch == 0 {
		return true
	}
	return allowMatch >= disallowMatch
}

func matchLongest(pathValue string, rules []robotsRule) int {
	longest := 0
	for _, rule := range rules {
		if rule.matches(pathValue) && len(rule.path) > longest {
			longest = len(rule.path)
		}
	}
	return longest
}
