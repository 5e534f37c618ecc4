package dispatcher

import (
	"stardaemon/internal/connector"
	"stardaemon/internal/domain"
	"strconv"
	"strings"
)

const noDescription = "No description"

// Render substitutes the known placeholders in template. Unknown braces are
// left as they are, and substituted values are never expanded again.
func Render(template string, repo domain.StarredRepository, summary string) string {
	description := strings.TrimSpace(repo.Description)
	if description == "" {
		description = noDescription
	}

	language := repo.Language
	if language == "" {
		language = "Unknown"
	}

	if strings.TrimSpace(summary) == "" {
		summary = description
	}

	return strings.NewReplacer(
		"{url}", repo.URL,
		"{name}", repo.FullName,
		"{description}", description,
		"{language}", language,
		"{stars}", strconv.Itoa(repo.Stars),
		"{owner}", repo.Owner,
		"{summary}", summary,
	).Replace(template)
}

// compose renders the template and applies INCLUDE_DESCRIPTION and the
// message length cap.
func compose(opts Options, repo domain.StarredRepository, summary string) string {
	message := Render(opts.Template, repo, summary)

	if opts.IncludeDescription && !strings.Contains(opts.Template, "{description}") {
		if description := strings.TrimSpace(repo.Description); description != "" {
			message += "\n\n" + description
		}
	}

	if opts.MaxMessageLength > 0 {
		message = connector.TruncateKeepingLinks(message, opts.MaxMessageLength)
	}

	return message
}

func needsSummary(template string) bool {
	return strings.Contains(template, "{summary}")
}
