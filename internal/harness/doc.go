// Package harness provides conformance testing for HiveLang integrations.
//
// A scenario loads capability source, invokes capabilities in order with a
// fixed execution context and answers every outbound HTTP request from a
// canned response table. No request leaves the process.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: list_repos
//	description: "Lists unarchived repositories"
//	source_file: github.hive        # or inline: source: |
//	context:
//	  user: { id: u1, api_key: tok }
//	  integration: { id: github, name: GitHub, slug: github }
//	http:
//	  - method: GET
//	    url: https://api.github.com/users/octocat/repos
//	    status: 200
//	    body: [{ name: a, archived: false }]
//	steps:
//	  - invoke: list_repos
//	    args: [octocat]
//	    expect:
//	      success: true
//	      value: [a]
//	assertions:
//	  - type: header_sent
//	    url: https://api.github.com/users/octocat/repos
//	    header: Authorization
//	    value: token tok
//
// # Assertion Types
//
//   - http_called: a request with the given method and URL was made
//   - http_count: exactly count requests matched method and URL
//   - header_sent: a request to URL carried header with value
//   - trace_order: the listed events appear in order
//
// # Deterministic Testing
//
// Trace sequence numbers and the engine's wall clock both come from
// testutil.DeterministicClock, so the same scenario produces a
// byte-identical trace on every run. Traces can be compared against
// golden files with RunWithGolden.
package harness
