package app

import (
	"fmt"
	"strings"

	"github.com/aelexs/archivebot/internal/domain"
)

const (
	ReplyVerified     = "Verification successful! Send #help to see available commands."
	ReplyInvalidCode  = "Invalid code. Please check your code and try again."
	ReplyAnalyzing    = "Analyzing your content..."
	ReplyTooLarge     = "File is too large. The maximum size is 15 MB."
	ReplyWindowUsage  = "Please specify: today, yesterday, or week"
	ReplyCountUsage   = "Please specify a valid number greater than 0"
	ReplySearchUsage  = "Please provide a search keyword"
	ReplyNoCategories = "No files found"
)

const helpText = `Available Commands:

📅 Time-based Retrieval:
#files today - Show files uploaded today
#files yesterday - Show yesterday's files
#files week - Show this week's files

📂 Category Retrieval:
#posters 5 - Show last 5 posters
#exams 3 - Show last 3 exams
#links 10 - Show last 10 links
#videos 5 - Show last 5 videos

🔍 Search:
#search keyword - Search files by keyword

📊 Overview:
#categories - Show how many files you have per category

💡 Note:
- Numbers after categories must be greater than 0
- Large files will be shared as links
- Use #help anytime to see this menu`

func uploadReply(category domain.Category, analysis domain.Analysis, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File analyzed and uploaded as %s!", category)
	if len(analysis.Keywords) > 0 {
		fmt.Fprintf(&b, "\nKeywords: %s", strings.Join(analysis.Keywords, ", "))
	}
	if analysis.Subject != "" {
		fmt.Fprintf(&b, "\nSubject: %s", analysis.Subject)
	}
	fmt.Fprintf(&b, "\nAccess it here: %s", url)
	return b.String()
}

func writeKeywords(b *strings.Builder, keywords []string) {
	if len(keywords) > 0 {
		fmt.Fprintf(b, "   Keywords: %s\n", strings.Join(keywords, ", "))
	}
}

// windowReply groups records by category in order of first appearance.
// Records arrive newest first and keep that order inside each block.
func windowReply(window string, records []domain.MediaRecord, urls []string) string {
	var order []domain.Category
	groups := make(map[domain.Category][]int)
	for i, r := range records {
		if _, seen := groups[r.Category]; !seen {
			order = append(order, r.Category)
		}
		groups[r.Category] = append(groups[r.Category], i)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Files from %s:\n\n", window)
	for _, category := range order {
		fmt.Fprintf(&b, "%s:\n", strings.ToUpper(string(category)))
		for n, i := range groups[category] {
			fmt.Fprintf(&b, "%d. %s\n", n+1, urls[i])
			writeKeywords(&b, records[i].Keywords)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func recentReply(count int, category domain.Category, records []domain.MediaRecord, urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d %s files:\n\n", count, category)
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s\n", i+1, urls[i])
		writeKeywords(&b, r.Keywords)
	}
	return b.String()
}

func searchReply(keyword string, records []domain.MediaRecord, urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", keyword)
	for i, r := range records {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Category, urls[i])
		writeKeywords(&b, r.Keywords)
		b.WriteString("\n")
	}
	return b.String()
}
