// Package poller implements the conditional feed-polling engine.
//
// An Orchestrator lists feeds from a FeedSource and runs an Executor over
// each one on a fixed-size worker pool. The Executor issues one conditional
// GET per feed (If-Modified-Since / If-None-Match built from the feed's cached
// validators), classifies the final response, and hands an artifact.Outcome
// to an ArtifactWriter before returning its verdict. Permanent redirects seen
// while following the chain are reported to a RedirectObserver as they
// happen, so a URL change is recorded even if the final hop fails.
//
// Local failures are recorded under synthetic status codes outside the HTTP
// range so they share the artifact keying scheme with real responses.
package poller
