package checkin

import "fmt"

// DefaultRoster is the rotating team list handed out at check-in.
var DefaultRoster = []string{
	"Team Genesis", "Team Exodus", "Team Numbers", "Team Joshua", "Team Judges",
	"Team Ruth", "Team Samuel", "Team Kings", "Team Chronicles", "Team Ezra",
	"Team Nehemiah", "Team Esther", "Team Job", "Team Psalms", "Team Proverbs",
	"Team Solomon", "Team Isaiah", "Team Jeremiah", "Team Ezekiel", "Team Daniel",
	"Team Hosea", "Team Joel", "Team Amos", "Team Obadiah", "Team Jonah",
	"Team Micah", "Team Habakkuk", "Team Haggai", "Team Zechariah", "Team Malachi",
}

// LabelFor maps the n-th check-in (1-based) onto the roster, wrapping every
// len(roster) check-ins.
func LabelFor(n int64, roster []string) (string, error) {
	if n < 1 {
		return "", fmt.Errorf("attendance number must be positive, got %d", n)
	}
	if len(roster) == 0 {
		return "", fmt.Errorf("team roster is empty")
	}
	return roster[(n-1)%int64(len(roster))], nil
}
