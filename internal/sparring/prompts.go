package sparring

import (
	"fmt"
	"strings"
)

const candidatePrompt = `Produce a complete solution to the following problem.

Problem:
%s`

const challengePrompt = `Critique the candidate solution below. Enumerate the assumptions it makes
and the scenarios in which it fails. Grade each point critical, major or minor,
and propose a correction where one exists.

Return ONLY a JSON object with this structure:
{"challenges":[{"severity":"critical","point":"...","correction":"..."}]}

Problem:
%s

Candidate:
%s`

const alternativesPrompt = `Propose %d structurally distinct alternatives to the candidate solution below.
For each, list only the aspects where it is strictly better than the candidate.

Return ONLY a JSON object with this structure:
{"alternatives":[{"summary":"...","improvements":[{"aspect":"...","text":"..."}],"confidence":0.7}]}

Problem:
%s

Candidate:
%s
%s`

func buildCandidatePrompt(problem string) string {
	return fmt.Sprintf(candidatePrompt, problem)
}

func buildChallengePrompt(problem, candidate string) string {
	return fmt.Sprintf(challengePrompt, problem, candidate)
}

func buildAlternativesPrompt(n int, problem, candidate string, critical []string) string {
	var extra string
	if len(critical) > 0 {
		extra = "\nKnown critical issues:\n- " + strings.Join(critical, "\n- ") + "\n"
	}
	return fmt.Sprintf(alternativesPrompt, n, problem, candidate, extra)
}
