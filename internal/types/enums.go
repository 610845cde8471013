package types

import (
	"fmt"
)

// Role represents an agent's function inside a debate
type Role string

const (
	RoleProposer    Role = "proposer"    // Generates proposals each round
	RoleCritic      Role = "critic"      // Critiques other agents' proposals
	RoleSynthesizer Role = "synthesizer" // Merges viewpoints; judge fallback
	RoleJudge       Role = "judge"       // Synthesises the terminal answer
)

// BackendKind identifies the transport an agent speaks
type BackendKind string

const (
	// BackendCLI - a subprocess fed the prompt on stdin, completion on stdout
	BackendCLI BackendKind = "cli"

	// BackendOpenAI - an HTTP endpoint speaking the chat-completions wire shape
	BackendOpenAI BackendKind = "http-openai-shape"

	// BackendAnthropic - an HTTP endpoint speaking the messages wire shape
	BackendAnthropic BackendKind = "http-anthropic-shape"

	// BackendLocalHTTP - a local inference server with a plain JSON generate API
	BackendLocalHTTP BackendKind = "local-http"
)

// ConsensusRule selects how a debate decides it is finished
type ConsensusRule string

const (
	ConsensusMajority      ConsensusRule = "majority"       // Plain plurality with optional margin
	ConsensusUnanimous     ConsensusRule = "unanimous"      // Every non-abstaining voter agrees
	ConsensusJudge         ConsensusRule = "judge"          // A judge synthesises the final answer
	ConsensusSuperMajority ConsensusRule = "super-majority" // At least two thirds agree
)

var (
	// AllRoles contains all valid agent roles
	AllRoles = []Role{
		RoleProposer,
		RoleCritic,
		RoleSynthesizer,
		RoleJudge,
	}

	// AllBackendKinds contains all valid backend kinds
	AllBackendKinds = []BackendKind{
		BackendCLI,
		BackendOpenAI,
		BackendAnthropic,
		BackendLocalHTTP,
	}

	// AllConsensusRules contains all valid consensus rules
	AllConsensusRules = []ConsensusRule{
		ConsensusMajority,
		ConsensusUnanimous,
		ConsensusJudge,
		ConsensusSuperMajority,
	}

	roleMap = map[string]Role{
		string(RoleProposer):    RoleProposer,
		string(RoleCritic):      RoleCritic,
		string(RoleSynthesizer): RoleSynthesizer,
		string(RoleJudge):       RoleJudge,
	}

	backendKindMap = map[string]BackendKind{
		string(BackendCLI):       BackendCLI,
		string(BackendOpenAI):    BackendOpenAI,
		string(BackendAnthropic): BackendAnthropic,
		string(BackendLocalHTTP): BackendLocalHTTP,
	}

	consensusRuleMap = map[string]ConsensusRule{
		string(ConsensusMajority):      ConsensusMajority,
		string(ConsensusUnanimous):     ConsensusUnanimous,
		string(ConsensusJudge):         ConsensusJudge,
		string(ConsensusSuperMajority): ConsensusSuperMajority,
	}
)

// Error types for invalid values
var (
	ErrInvalidRole          = fmt.Errorf("invalid agent role")
	ErrInvalidBackendKind   = fmt.Errorf("invalid backend kind")
	ErrInvalidConsensusRule = fmt.Errorf("invalid consensus rule")
)

// IsValid checks if the Role is valid
func (r Role) IsValid() bool {
	_, ok := roleMap[string(r)]
	return ok
}

// String converts the enum to string
func (r Role) String() string {
	return string(r)
}

// ParseRole parses a string into a Role
func ParseRole(s string) (Role, error) {
	if role, ok := roleMap[s]; ok {
		return role, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidRole, s)
}

// IsValid checks if the BackendKind is valid
func (b BackendKind) IsValid() bool {
	_, ok := backendKindMap[string(b)]
	return ok
}

// String converts the enum to string
func (b BackendKind) String() string {
	return string(b)
}

// ParseBackendKind parses a string into a BackendKind
func ParseBackendKind(s string) (BackendKind, error) {
	if kind, ok := backendKindMap[s]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidBackendKind, s)
}

// IsValid checks if the ConsensusRule is valid
func (c ConsensusRule) IsValid() bool {
	_, ok := consensusRuleMap[string(c)]
	return ok
}

// String converts the enum to string
func (c ConsensusRule) String() string {
	return string(c)
}

// ParseConsensusRule parses a string into a ConsensusRule
func ParseConsensusRule(s string) (ConsensusRule, error) {
	if rule, ok := consensusRuleMap[s]; ok {
		return rule, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidConsensusRule, s)
}

// Description returns a human-readable description of the role
func (r Role) Description() string {
	switch r {
	case RoleProposer:
		return "Generates proposals each round"
	case RoleCritic:
		return "Critiques other agents' proposals"
	case RoleSynthesizer:
		return "Merges viewpoints; stands in for an absent judge"
	case RoleJudge:
		return "Synthesises the terminal answer"
	default:
		return "Unknown role"
	}
}
