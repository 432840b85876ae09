// Package harness runs conformance scenarios against the votepool contract.
//
// A scenario funds named accounts, deploys one contract instance, executes a
// flow of transactions and queries, and checks the outcome of every step as
// well as assertions over the emitted events and the final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	accounts:
//	  owner: 1000000000
//	  alice: 1000000000
//	deployer: owner
//	params:
//	  commission_percent: 10
//	flow:
//	  - action: create_voting
//	    from: owner
//	    candidates: [alice, bob]
//	  - action: vote
//	    from: alice
//	    round: 0
//	    candidate: 1
//	  - action: end_voting
//	    from: alice
//	    round: 0
//	    expect:
//	      error: TOO_EARLY
//	assertions:
//	  - type: event_emitted
//	    kind: voted
//	    payload: { voter: alice, candidate: 1 }
//	  - type: balance
//	    account: alice
//	    delta: -10000000
//	  - type: final_state
//	    table: candidates
//	    where: { round_id: 0, idx: 1 }
//	    expect: { votes: 1, address: bob }
//
// Account names stand in for addresses everywhere: in step fields, in event
// payloads and results shown in the trace, and in assertion values. The
// deployed instance is called "contract".
//
// # Assertion Types
//
//   - event_emitted: an event of the kind whose payload contains the given fields
//   - event_count: exactly N events of the kind
//   - balance: an account balance, exact or as a change since the start
//   - commission: the withdrawable commission
//   - round_state: ended flag, vote counts, pool and winner of a round
//   - final_state: queries a store table and verifies expected values
//
// # Deterministic Testing
//
// Every run uses a manual clock starting at testutil.Epoch, sequential
// transaction ids and addresses derived from account names, so traces are
// identical across runs and can be compared against golden files.
package harness
