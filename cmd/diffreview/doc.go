// Diffreview streams a pull request diff through an LLM and posts the
// aggregated review as a pull request comment.
//
// The diff is split into fixed-size chunks that are streamed to the
// completion API with a bounded number in flight and a pause after each
// submission. The streamed text is concatenated and posted verbatim.
//
// Usage:
//
//	diffreview review --pr 42 --repo owner/repo       # fetch, review and comment
//	git diff main | diffreview review --pr 42         # review a piped diff
//	diffreview review --range origin/main..HEAD --dry-run
//	diffreview providers check --provider openai      # verify credentials
//	diffreview ledger stats                           # reviews already posted
//
// In GitHub Actions the repository and pull request number are read from
// GITHUB_REPOSITORY and GITHUB_PR_NUMBER, and the Azure OpenAI settings from
// OPEN_AI_AZURE_ENDPOINT, OPEN_AI_AZURE_KEY and OPEN_AI_AZURE_DEPLOYMENT_ID.
package main
