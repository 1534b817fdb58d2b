package statistics

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/models"
)

const indent = "    "

// XML exports the participants and run entries of project
func (s *Service) XML(ctx context.Context, project string) (string, error) {
	participations, err := s.store.ListParticipations(ctx, project)
	if err != nil {
		return "", fmt.Errorf("failed to list participations: %w", err)
	}
	entries, err := s.store.ListRunEntries(ctx, project)
	if err != nil {
		return "", fmt.Errorf("failed to list run entries: %w", err)
	}
	return Render(project, participations, entries), nil
}

// Render builds the statistics document. Users are identified by pseudonym.
func Render(project string, participations []*challenge.Participation, entries []models.RunEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<Statistics project=\"%s\">\n", escape(project))

	fmt.Fprintf(&b, "%s<Users count=\"%d\">\n", indent, len(participations))
	for _, p := range participations {
		writeUser(&b, project, p, indent+indent)
	}
	b.WriteString(indent + "</Users>\n")

	sorted := append([]models.RunEntry(nil), entries...)
	SortRunEntries(sorted)

	fmt.Fprintf(&b, "%s<Runs count=\"%d\">\n", indent, len(sorted))
	for _, e := range sorted {
		b.WriteString(indent + indent + RunXML(e) + "\n")
	}
	b.WriteString(indent + "</Runs>\n")

	b.WriteString("</Statistics>")
	return b.String()
}

func writeUser(b *strings.Builder, project string, p *challenge.Participation, pad string) {
	pseudonym := models.User{ID: p.UserID}.Pseudonym()
	fmt.Fprintf(b, "%s<User id=\"%s\" project=\"%s\" score=\"%s\">\n", pad, pseudonym, escape(project), strconv.Itoa(p.Score))

	inner := pad + indent
	item := inner + indent

	fmt.Fprintf(b, "%s<CurrentChallenges count=\"%d\">\n", inner, len(p.Current))
	for _, c := range p.Current {
		b.WriteString(item + c.XML("") + "\n")
	}
	b.WriteString(inner + "</CurrentChallenges>\n")

	fmt.Fprintf(b, "%s<CompletedChallenges count=\"%d\">\n", inner, len(p.Completed))
	for _, c := range p.Completed {
		b.WriteString(item + c.XML("") + "\n")
	}
	b.WriteString(inner + "</CompletedChallenges>\n")

	fmt.Fprintf(b, "%s<RejectedChallenges count=\"%d\">\n", inner, len(p.Rejected))
	for _, r := range p.Rejected {
		b.WriteString(item + r.Challenge.XML(r.Reason) + "\n")
	}
	b.WriteString(inner + "</RejectedChallenges>\n")

	b.WriteString(pad + "</User>\n")
}
