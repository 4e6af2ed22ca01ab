package nlp

import "testing"

func fval(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}

func TestParseSentence(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		text     string
		location string
		min, max float64 // -1 means unset
	}{
		{
			name:     "full sentence",
			input:    "je cherche une clio 5 à Rennes entre 3000 et 8000 euros",
			text:     "clio 5",
			location: "Rennes",
			min:      3000, max: 8000,
		},
		{
			name:  "between with k suffix",
			input: "appartement entre 100k et 200k",
			text:  "appartement",
			min:   100000, max: 200000,
		},
		{
			name:  "max only",
			input: "je voudrais un vélo de course moins de 300 euros",
			text:  "vélo de course",
			min:   -1, max: 300,
		},
		{
			name:  "budget max",
			input: "maison budget max 300k",
			text:  "maison",
			min:   -1, max: 300000,
		},
		{
			name:  "min only",
			input: "montre ancienne plus de 100 euros",
			text:  "montre ancienne",
			min:   100, max: -1,
		},
		{
			name:  "a partir de",
			input: "guitare à partir de 150€",
			text:  "guitare",
			min:   150, max: -1,
		},
		{
			name:     "location with sur",
			input:    "console de jeu sur Bordeaux",
			text:     "console de jeu",
			location: "Bordeaux",
			min:      -1, max: -1,
		},
		{
			name:     "location stops at pour",
			input:    "pièces détachées à Lyon pour ma clio",
			text:     "pièces détachées pour ma clio",
			location: "Lyon",
			min:      -1, max: -1,
		},
		{
			name:  "no criteria",
			input: "clio 5",
			text:  "clio 5",
			min:   -1, max: -1,
		},
		{
			name:  "grouped thousands",
			input: "voiture moins de 10 000 euros",
			text:  "voiture",
			min:   -1, max: 10000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseSentence(tc.input)
			if got.Text != tc.text {
				t.Errorf("Text = %q, want %q", got.Text, tc.text)
			}
			if got.Location != tc.location {
				t.Errorf("Location = %q, want %q", got.Location, tc.location)
			}
			if fval(got.PriceMin) != tc.min {
				t.Errorf("PriceMin = %v, want %v", fval(got.PriceMin), tc.min)
			}
			if fval(got.PriceMax) != tc.max {
				t.Errorf("PriceMax = %v, want %v", fval(got.PriceMax), tc.max)
			}
		})
	}
}

func TestParseSentenceKeepsAccentedCity(t *testing.T) {
	got := ParseSentence("je cherche un canapé à Orléans")
	if got.Location != "Orléans" {
		t.Errorf("Location = %q, want Orléans", got.Location)
	}
	if got.Text != "canapé" {
		t.Errorf("Text = %q, want canapé", got.Text)
	}
}
