// Package discovery implements the Discovery Pipeline (spec §4.9): a slow
// cadence scan that ingests the active market universe, embeds and clusters
// market questions semantically, asks an LLM to label clusters and evaluate
// candidate leader-follower pairs, and persists actionable relations into
// the Opportunity & Cache State. Grounded on the teacher's FetchEvents
// pagination shape for ingest; clustering and LLM orchestration have no
// precedent in the corpus and are built directly against spec.md's
// algorithm description.
package discovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/exchange"
	"github.com/surveil/smartmoney/internal/llm"
	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/opportunity"
)

// EmbeddingProvider is the subset of embedding.Provider the pipeline needs;
// declared locally so discovery does not import embedding's HTTP concerns.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// LLMProvider is the subset of llm.Provider the pipeline needs.
type LLMProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Pipeline runs one discovery scan at a time against a fixed set of
// collaborators.
type Pipeline struct {
	cfg        config.DiscoveryConfig
	marketsCli *exchange.MarketsClient
	embedder   EmbeddingProvider
	llmCli     LLMProvider
	state      *opportunity.State
	rng        *rand.Rand
}

// New constructs a Discovery Pipeline.
func New(cfg config.DiscoveryConfig, marketsCli *exchange.MarketsClient, embedder EmbeddingProvider, llmCli LLMProvider, state *opportunity.State) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		marketsCli: marketsCli,
		embedder:   embedder,
		llmCli:     llmCli,
		state:      state,
		rng:        rand.New(rand.NewSource(cfg.KMeansSeed)),
	}
}

// clusterCandidate is a market carried alongside its embedding and assigned
// taxonomy label through the pipeline's stages.
type clusterCandidate struct {
	market    models.Market
	embedding []float64
	label     llm.ClusterLabel
}

// Run executes one full scan: ingest, embed, cluster, label, evaluate pairs,
// register opportunities, and clean the cache (spec §4.9 steps 1-8).
func (p *Pipeline) Run(ctx context.Context) error {
	markets, newMarketIDs, err := p.ingest(ctx)
	if err != nil {
		return fmt.Errorf("discovery ingest failed: %w", err)
	}
	logger.Info("discovery: %d markets after ingest filtering (%d new)", len(markets), len(newMarketIDs))
	if len(markets) < 2 {
		return p.state.CleanupEndedMarkets()
	}

	candidates := p.embedAll(ctx, markets)

	clusters := p.cluster(candidates)
	logger.Info("discovery: formed %d clusters", len(clusters))

	p.labelClusters(ctx, clusters)

	for _, cluster := range clusters {
		p.evaluateCluster(ctx, cluster, newMarketIDs)
	}

	return p.state.CleanupEndedMarkets()
}

// ingest fetches the active market universe and applies spec §4.9 step 1's
// filters: excluded categories, minimum days-to-end, minimum volume. Returns
// the surviving markets plus the set of ids that were new before this scan
// marked them seen (§4.9 step 5b's "neither endpoint is new" reads this
// pre-scan snapshot, not the post-ingest state).
func (p *Pipeline) ingest(ctx context.Context) ([]models.Market, map[string]bool, error) {
	markets, err := p.marketsCli.FetchMarkets(ctx, 1000)
	if err != nil {
		return nil, nil, err
	}

	excluded := make(map[string]bool, len(p.cfg.ExcludedCategories))
	for _, c := range p.cfg.ExcludedCategories {
		excluded[strings.ToLower(c)] = true
	}

	now := time.Now()
	var out []models.Market
	newMarketIDs := make(map[string]bool)
	for _, m := range markets {
		if m.Closed {
			continue
		}
		if hasExcludedTag(m.Tags, excluded) {
			continue
		}
		daysToEnd := m.EndTime.Sub(now).Hours() / 24
		if daysToEnd < p.cfg.MinDaysToEnd {
			continue
		}
		if m.Volume24hr < p.cfg.MinVolumeUSD {
			continue
		}
		if p.state.IsMarketNew(m.ID) {
			newMarketIDs[m.ID] = true
		}
		p.state.MarkMarketSeen(m.ID, m.Question, m.EndTime)
		out = append(out, m)
	}
	return out, newMarketIDs, nil
}

func hasExcludedTag(tags []string, excluded map[string]bool) bool {
	for _, t := range tags {
		if excluded[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// embedAll resolves an embedding per market, reusing the Opportunity State's
// cache and only querying the provider for un-cached markets (spec §4.9
// step 2). Markets whose text cannot be embedded (provider failure) still
// get a candidate entry with a nil embedding, to be covered by the
// rule-based fallback in cluster().
func (p *Pipeline) embedAll(ctx context.Context, markets []models.Market) []clusterCandidate {
	out := make([]clusterCandidate, 0, len(markets))
	for _, m := range markets {
		if cached, ok := p.state.GetEmbedding(m.ID); ok {
			out = append(out, clusterCandidate{market: m, embedding: cached})
			continue
		}

		vec, err := p.embedder.Embed(ctx, m.Question)
		if err != nil {
			logger.Warn("discovery: embedding provider failed for market %s, falling back to rule-based topic: %v", m.ID, err)
			out = append(out, clusterCandidate{market: m, embedding: nil})
			continue
		}
		if err := p.state.SaveEmbedding(m.ID, vec); err != nil {
			logger.Warn("discovery: failed to cache embedding for %s: %v", m.ID, err)
		}
		out = append(out, clusterCandidate{market: m, embedding: vec})
	}
	return out
}

// cluster runs k-means over candidates that have an embedding; candidates
// without one (provider failure) are grouped by the static rule-based topic
// table instead (spec §4.9 step 3).
func (p *Pipeline) cluster(candidates []clusterCandidate) [][]clusterCandidate {
	var withEmbedding, withoutEmbedding []clusterCandidate
	for _, c := range candidates {
		if c.embedding == nil {
			withoutEmbedding = append(withoutEmbedding, c)
		} else {
			withEmbedding = append(withEmbedding, c)
		}
	}

	var clusters [][]clusterCandidate
	if len(withEmbedding) > 0 {
		k := clusterK(len(withEmbedding), p.cfg.ClusterKMin, p.cfg.ClusterKDivisor)
		clusters = kMeans(withEmbedding, k, p.cfg.KMeansIterations, p.rng)
	}

	if len(withoutEmbedding) > 0 {
		byTopic := make(map[string][]clusterCandidate)
		for _, c := range withoutEmbedding {
			topic := ruleBasedTopic(c.market.Question)
			byTopic[topic] = append(byTopic[topic], c)
		}
		for _, group := range byTopic {
			clusters = append(clusters, group)
		}
	}

	return clusters
}

// clusterK computes k = max(kMin, N/divisor) per spec §4.9 step 3.
func clusterK(n, kMin, divisor int) int {
	if divisor <= 0 {
		divisor = 1
	}
	k := n / divisor
	if k < kMin {
		k = kMin
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

// kMeans clusters candidates' embeddings into k groups using Euclidean
// distance, random seeding without replacement, capped at maxIterations
// (spec §4.9 step 3).
func kMeans(candidates []clusterCandidate, k, maxIterations int, rng *rand.Rand) [][]clusterCandidate {
	n := len(candidates)
	if k >= n {
		out := make([][]clusterCandidate, n)
		for i, c := range candidates {
			out[i] = []clusterCandidate{c}
		}
		return out
	}

	centroids := seedCentroids(candidates, k, rng)
	assignments := make([]int, n)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, c := range candidates {
			best, bestDist := 0, math.Inf(1)
			for j, centroid := range centroids {
				d := euclideanDistance(c.embedding, centroid)
				if d < bestDist {
					best, bestDist = j, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		centroids = recomputeCentroids(candidates, assignments, k)
	}

	groups := make([][]clusterCandidate, k)
	for i, c := range candidates {
		groups[assignments[i]] = append(groups[assignments[i]], c)
	}

	var out [][]clusterCandidate
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func seedCentroids(candidates []clusterCandidate, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(candidates))
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), candidates[perm[i]].embedding...)
	}
	return centroids
}

func recomputeCentroids(candidates []clusterCandidate, assignments []int, k int) [][]float64 {
	dim := len(candidates[0].embedding)
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, c := range candidates {
		cluster := assignments[i]
		counts[cluster]++
		for d := 0; d < dim; d++ {
			sums[cluster][d] += c.embedding[d]
		}
	}
	for i := range sums {
		if counts[i] == 0 {
			continue
		}
		for d := 0; d < dim; d++ {
			sums[i][d] /= float64(counts[i])
		}
	}
	return sums
}

func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// ruleBasedTopic classifies a question via a static regex table when the
// embedding provider is unavailable (spec §4.9 step 3 fallback).
var topicPatterns = []struct {
	pattern *regexp.Regexp
	topic   string
}{
	{regexp.MustCompile(`(?i)president|election|senate|congress|vote`), "politics"},
	{regexp.MustCompile(`(?i)fed|rate cut|inflation|gdp|recession`), "economy"},
	{regexp.MustCompile(`(?i)stock|nasdaq|s&p|price target|ipo`), "finance"},
	{regexp.MustCompile(`(?i)war|treaty|sanctions|ceasefire`), "geopolitics"},
	{regexp.MustCompile(`(?i)ai|llm|gpt|model release`), "ai"},
	{regexp.MustCompile(`(?i)app|chip|software|launch`), "tech"},
	{regexp.MustCompile(`(?i)movie|album|award|celebrity`), "culture"},
}

func ruleBasedTopic(question string) string {
	for _, tp := range topicPatterns {
		if tp.pattern.MatchString(question) {
			return tp.topic
		}
	}
	return "other"
}

// labelClusters asks the LLM to classify up to 5 representative questions
// per cluster and tags every member with the result (spec §4.9 step 4).
// Clusters formed by the rule-based fallback already carry a topic and are
// labeled directly without an LLM call.
func (p *Pipeline) labelClusters(ctx context.Context, clusters [][]clusterCandidate) {
	for ci, cluster := range clusters {
		if cluster[0].embedding == nil {
			label := llm.ClusterLabel(ruleBasedTopic(cluster[0].market.Question))
			for i := range cluster {
				cluster[i].label = label
			}
			clusters[ci] = cluster
			continue
		}

		reps := representativeQuestions(cluster, 5)
		reply, err := p.llmCli.Complete(ctx, clusterLabelSystemPrompt, strings.Join(reps, "\n"))
		label := llm.LabelOther
		if err != nil {
			logger.Warn("discovery: cluster labeling LLM call failed, defaulting to other: %v", err)
		} else {
			label = llm.ParseClusterLabel(reply)
		}
		for i := range cluster {
			cluster[i].label = label
		}
		clusters[ci] = cluster
	}
}

const clusterLabelSystemPrompt = `Classify the following prediction-market questions into exactly one of: politics, finance, geopolitics, economy, tech, ai, culture, elections, other. Reply with JSON {"label": "<taxonomy>"}.`

func representativeQuestions(cluster []clusterCandidate, n int) []string {
	if n > len(cluster) {
		n = len(cluster)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = cluster[i].market.Question
	}
	return out
}

// evaluateCluster runs pairwise evaluation over every unordered pair in a
// cluster of size >= 2 (spec §4.9 step 5) and registers actionable pairs
// (step 6-7).
func (p *Pipeline) evaluateCluster(ctx context.Context, cluster []clusterCandidate, newMarketIDs map[string]bool) {
	if len(cluster) < 2 {
		return
	}

	evaluated := 0
	for i := 0; i < len(cluster); i++ {
		for j := i + 1; j < len(cluster); j++ {
			if p.cfg.MaxPairsPerCluster > 0 && evaluated >= p.cfg.MaxPairsPerCluster {
				logger.Warn("discovery: cluster hit max pairs per cluster (%d), remaining pairs skipped", p.cfg.MaxPairsPerCluster)
				return
			}
			evaluated++
			p.evaluatePair(ctx, cluster[i].market, cluster[j].market, newMarketIDs)
		}
	}
}

// evaluatePair implements spec §4.9 steps 5-7 for one unordered pair,
// returning true if an Opportunity was newly registered. newMarketIDs holds
// the ids that were new to the Opportunity State before this scan began.
func (p *Pipeline) evaluatePair(ctx context.Context, m1, m2 models.Market, newMarketIDs map[string]bool) bool {
	timeGapDays := math.Abs(m1.EndTime.Sub(m2.EndTime).Hours() / 24)
	if timeGapDays < p.cfg.MinTimeGapDays {
		return false
	}

	neitherNew := !newMarketIDs[m1.ID] && !newMarketIDs[m2.ID]
	var relType models.RelationType
	var confidence, expectedEdge float64
	var rationale string

	if cached, ok := p.state.GetPairResult(m1.ID, m2.ID); ok && neitherNew {
		relType, confidence = cached.Result, cached.Confidence
	} else {
		eval, err := p.queryPairEvaluation(ctx, m1, m2)
		if err != nil {
			logger.Warn("discovery: pair evaluation failed for %s/%s, treating as unrelated (uncached): %v", m1.ID, m2.ID, err)
			return false
		}
		relType = models.RelationType(eval.RelationshipType)
		confidence = eval.ConfidenceScore
		expectedEdge = eval.ExpectedEdge
		rationale = eval.TradingRationale

		if err := p.state.SavePairResult(m1.ID, m2.ID, relType, confidence); err != nil {
			logger.Warn("discovery: failed to cache pair result for %s/%s: %v", m1.ID, m2.ID, err)
		}
	}

	if !isActionable(relType, confidence, p.cfg.MinConfidence) {
		return false
	}

	leader, follower := orientByTime(m1, m2)
	relation := models.MarketRelation{
		LeaderID: leader.ID, FollowerID: follower.ID, LeaderEndTime: leader.EndTime,
		Relationship: relType, Confidence: confidence,
		TradingRationale: rationale, ExpectedEdge: expectedEdge,
		TimeGapDays: timeGapDays, SeriesID: leader.SeriesID,
	}
	_, created := p.state.AddOpportunity(relation)
	if created {
		logger.Info("discovery: registered opportunity leader=%s follower=%s relationship=%s", leader.ID, follower.ID, relType)
	}
	return created
}

// queryPairEvaluation asks the LLM to evaluate a pair and parses the
// hostile-JSON reply. Both a transport failure and a parse failure are
// returned as an error so the caller treats the pair as UNRELATED without
// caching the result (spec §6, §7).
func (p *Pipeline) queryPairEvaluation(ctx context.Context, m1, m2 models.Market) (llm.PairEvaluation, error) {
	user := fmt.Sprintf("Market A: %q (ends %s)\nMarket B: %q (ends %s)",
		m1.Question, m1.EndTime.Format(time.RFC3339), m2.Question, m2.EndTime.Format(time.RFC3339))

	reply, err := p.llmCli.Complete(ctx, pairEvaluationSystemPrompt, user)
	if err != nil {
		return llm.PairEvaluation{}, err
	}
	return llm.ParsePairEvaluation(reply)
}

const pairEvaluationSystemPrompt = `You evaluate pairs of prediction-market questions for a trading system. Reply with JSON {"isSameEvent": bool, "areMutuallyExclusive": bool, "relationshipType": "SAME_EVENT_REJECT"|"SAME_OUTCOME"|"DIFFERENT_OUTCOME"|"UNRELATED", "confidenceScore": number, "tradingRationale": string, "expectedEdge": number}.`

// isActionable implements spec §4.9 step 6.
func isActionable(relType models.RelationType, confidence, minConfidence float64) bool {
	if relType != models.RelationSameOutcome && relType != models.RelationDifferentOutcome {
		return false
	}
	return confidence >= minConfidence
}

// orientByTime returns (leader, follower) with the leader being whichever
// market ends first (spec §4.9 step 6).
func orientByTime(m1, m2 models.Market) (models.Market, models.Market) {
	if m1.EndTime.Before(m2.EndTime) {
		return m1, m2
	}
	return m2, m1
}
