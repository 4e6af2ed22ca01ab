package analyze

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mguichard/adwatch/internal/database"
)

const analysisPrompt = `Tu es un expert en bonnes affaires sur les sites de petites annonces.

Contexte de recherche de l'utilisateur :
%s

Voici une liste d'annonces. Pour chacune, évalue l'intérêt de l'offre par
rapport au contexte : état probable, cohérence du prix, signaux d'alerte.

Annonces :
%s

Réponds UNIQUEMENT avec un tableau JSON, un objet par annonce :
[
  {
    "id": "identifiant de l'annonce",
    "resume": "2 phrases max résumant l'annonce et son intérêt",
    "score": 1-10,
    "conseil": "1 phrase de conseil pour l'acheteur"
  }
]

score : 10 = affaire exceptionnelle à saisir vite, 1 = sans intérêt ou suspect.`

const defaultContext = "Je cherche le meilleur rapport qualité/prix. Signale les annonces sous-évaluées et les vendeurs pressés."

const maxDescriptionRunes = 1000

// Completer produces a raw model response for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options tune batching. Zero values take the defaults.
type Options struct {
	ChunkSize  int
	ChunkPause time.Duration
}

// Analyzer scores ads in chunks through an LLM.
type Analyzer struct {
	client Completer
	opts   Options

	sleep func(context.Context, time.Duration) error
}

// New creates an Analyzer around client.
func New(client Completer, opts Options) *Analyzer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	if opts.ChunkPause == 0 {
		opts.ChunkPause = 2 * time.Second
	}
	return &Analyzer{
		client: client,
		opts:   opts,
		sleep:  sleepContext,
	}
}

// Analyze scores ads chunk by chunk and returns the insights gathered.
// A failed or unparseable chunk is skipped with a warning; cancellation
// stops before the next chunk starts. Results already gathered are
// always returned.
func (a *Analyzer) Analyze(ctx context.Context, run *Run, ads []database.Ad, searchContext string) []database.AdInsight {
	if len(ads) == 0 {
		return nil
	}
	if strings.TrimSpace(searchContext) == "" {
		searchContext = defaultContext
	}

	run.begin(len(ads), 0, fmt.Sprintf("Analyse de %d annonces...", len(ads)))

	var insights []database.AdInsight
	for start := 0; start < len(ads); start += a.opts.ChunkSize {
		select {
		case <-ctx.Done():
			run.finish(fmt.Sprintf("Analyse interrompue : %d/%d annonces", len(insights), len(ads)))
			return insights
		default:
		}

		end := start + a.opts.ChunkSize
		if end > len(ads) {
			end = len(ads)
		}
		chunk := ads[start:end]
		run.advance(start, fmt.Sprintf("Analyse des annonces %d à %d sur %d...", start+1, end, len(ads)))

		prompt := fmt.Sprintf(analysisPrompt, searchContext, formatAds(chunk))
		response, err := a.client.Complete(ctx, prompt)
		if err != nil {
			log.Printf("Analysis chunk %d-%d failed: %v", start+1, end, err)
			run.SetMessage(fmt.Sprintf("Échec sur les annonces %d à %d, on continue", start+1, end))
			continue
		}

		parsed := ParseInsights(response)
		if len(parsed) == 0 {
			log.Printf("Analysis chunk %d-%d returned no usable insights", start+1, end)
			run.SetMessage(fmt.Sprintf("Réponse illisible pour les annonces %d à %d, on continue", start+1, end))
			continue
		}
		insights = append(insights, parsed...)
		run.advance(end, fmt.Sprintf("%d annonces analysées sur %d", end, len(ads)))

		if end < len(ads) {
			if err := a.sleep(ctx, a.opts.ChunkPause); err != nil {
				run.finish(fmt.Sprintf("Analyse interrompue : %d/%d annonces", len(insights), len(ads)))
				return insights
			}
		}
	}

	run.finish(fmt.Sprintf("Analyse terminée : %d/%d annonces", len(insights), len(ads)))
	return insights
}

func formatAds(ads []database.Ad) string {
	var b strings.Builder
	for _, ad := range ads {
		location := "inconnu"
		if ad.Location != nil && *ad.Location != "" {
			location = *ad.Location
		}
		price := "inconnu"
		if ad.Price > 0 {
			price = fmt.Sprintf("%.0f EUR", ad.Price)
		}
		fmt.Fprintf(&b, "- id: %s\n  titre: %s\n  prix: %s\n  lieu: %s\n",
			ad.ExternalID, ad.Title, price, location)
		if ad.Description != nil {
			if desc := truncateRunes(*ad.Description, maxDescriptionRunes); desc != "" {
				fmt.Fprintf(&b, "  description: %s\n", desc)
			}
		}
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
