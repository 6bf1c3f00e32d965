package orchestrator

import "fmt"

// User-facing replies.
const (
	msgAcknowledge   = "Hang on, I am reviewing your game... 🤔"
	msgLoggedIn      = "Login was successful!"
	msgReviewReady   = "Alright, here is the review of your game! 👇"
	msgArtifact      = "Analysis page is ready. ✨"
	msgFailure       = "Sorry, something went wrong while reviewing your game. Please try again later."
	msgDiagnostic    = "An error occurred during the process."
	msgNoCredentials = "The review account is not configured yet. An administrator has to run /setconfig first."
	msgInternalError = "Sorry, I could not check your credits right now. Please try again later."
)

// progressPhrases cycle through the progress ticks.
var progressPhrases = []string{
	"Looks like you found some tactics in the match... 🧐",
	"Searching for any brilliant moves... 💎",
	"Checking the critical positions... ♟️",
	"Comparing your moves with the engine... ⚙️",
	"Almost there, polishing the review... ⏳",
}

func invalidTargetText(host string) string {
	return fmt.Sprintf("Please send a valid game link, like 'https://%s/live/game/123456789'.", host)
}

func quotaText(allotment int) string {
	return fmt.Sprintf("You have used all %d reviews for today. Credits refresh tomorrow.", allotment)
}

func balanceText(credits int) string {
	if credits == 1 {
		return "You have 1 review left today."
	}
	return fmt.Sprintf("You have %d reviews left today.", credits)
}

// progressText renders tick i of n. The percentage never reaches 100
// before the run has finished.
func progressText(i, n int) string {
	phrase := progressPhrases[i%len(progressPhrases)]
	return fmt.Sprintf("%s %d%%", phrase, (i+1)*100/(n+1))
}
