package categorizer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	moviePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?P<title>.+?)[\. ](?P<year>19\d{2}|20\d{2})`),
		regexp.MustCompile(`(?i)^(?P<title>.+?)[\. ]\((?P<year>19\d{2}|20\d{2})\)`),
	}
	episodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?P<show>.+?)[\. ]S(?P<season>\d{1,2})E(?P<episode>\d{1,2})`),
		regexp.MustCompile(`(?i)^(?P<show>.+?)[\. ](?P<season>\d{1,2})x(?P<episode>\d{1,2})`),
	}
)

// MovieName is a filename parsed as a movie release.
type MovieName struct {
	Title string
	Year  string
}

// EpisodeName is a filename parsed as a TV episode.
type EpisodeName struct {
	Show    string
	Season  int
	Episode int
}

// ParseMovie extracts title and year from names like "The.Matrix.1999.mkv"
// or "The Matrix (1999).mkv".
func ParseMovie(filename string) (MovieName, bool) {
	for _, re := range moviePatterns {
		m := re.FindStringSubmatch(filename)
		if m == nil {
			continue
		}
		title := cleanTitle(m[re.SubexpIndex("title")])
		if title == "" {
			continue
		}
		return MovieName{Title: title, Year: m[re.SubexpIndex("year")]}, true
	}
	return MovieName{}, false
}

// ParseEpisode extracts show, season and episode from names like
// "Show.S01E02.mkv" or "Show 1x02.mkv".
func ParseEpisode(filename string) (EpisodeName, bool) {
	for _, re := range episodePatterns {
		m := re.FindStringSubmatch(filename)
		if m == nil {
			continue
		}
		show := cleanTitle(m[re.SubexpIndex("show")])
		season, err1 := strconv.Atoi(m[re.SubexpIndex("season")])
		episode, err2 := strconv.Atoi(m[re.SubexpIndex("episode")])
		if show == "" || err1 != nil || err2 != nil {
			continue
		}
		return EpisodeName{Show: show, Season: season, Episode: episode}, true
	}
	return EpisodeName{}, false
}

func cleanTitle(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ".", " "))
}
