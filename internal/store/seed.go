package store

// DefaultSecretQuestions is the catalog installed on a fresh database.
var DefaultSecretQuestions = []string{
	"What was the name of your first pet?",
	"In what city were you born?",
	"What is your mother's maiden name?",
	"What was the name of your elementary school?",
	"What was the make of your first car?",
	"What is the name of the street you grew up on?",
	"What was your childhood nickname?",
	"What is your favorite book?",
	"What was the first concert you attended?",
	"What is the middle name of your oldest sibling?",
}
