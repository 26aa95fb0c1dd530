package ssml

import (
	"reflect"
	"strings"
	"testing"

	"github.com/iabetor/speaktranslate/internal/phrase"
)

func testVoices() Voices {
	return Voices{
		Locales:  map[string]string{"en": "en-US", "de": "de-DE", "es": "es-ES"},
		Defaults: map[string]string{"en": "en-US-JennyMultilingualNeural", "de": "de-DE-SeraphinaMultilingualNeural"},
		Formality: map[string]map[string]string{
			"de": {"informal": "de-DE-KatjaNeural"},
			"en": {"informal": "en-US-JennyNeural"},
		},
		Narrator:        "en-US-JennyMultilingualNeural",
		Fallback:        "en-US-JennyMultilingualNeural",
		GlossLang:       "es",
		SentenceRate:    1.0,
		WordRate:        0.8,
		SentencePauseMs: 1000,
		WordPauseMs:     300,
		GlossPauseMs:    500,
	}
}

func TestVoiceFor(t *testing.T) {
	v := testVoices()
	tests := []struct {
		lang, formality, want string
	}{
		{"de", "native", "de-DE-SeraphinaMultilingualNeural"},
		{"de", "informal", "de-DE-KatjaNeural"},
		{"en", "informal", "en-US-JennyNeural"},
		{"EN", "formal", "en-US-JennyMultilingualNeural"},
		{"fr", "native", "en-US-JennyMultilingualNeural"},
	}
	for _, tt := range tests {
		if got := v.VoiceFor(tt.lang, tt.formality); got != tt.want {
			t.Errorf("VoiceFor(%s, %s) = %s, want %s", tt.lang, tt.formality, got, tt.want)
		}
	}
	if v.Locale("xx") != "en-US" {
		t.Errorf("unknown locale should default to en-US")
	}
}

func TestAssemble_WithWordByWord(t *testing.T) {
	variants := []Variant{{Formality: "native", Language: "en", Text: "I need a job."}}
	pairs := map[string][]phrase.Pair{"en": {
		{Source: "I", Target: "yo"},
		{Source: "need", Target: "necesito"},
		{Source: "a job", Target: "un trabajo"},
	}}
	doc := Assemble(variants, pairs, testVoices())

	if len(doc.Sections) != 2 {
		t.Fatalf("expected sentence + word-by-word sections, got %d", len(doc.Sections))
	}

	sentence := doc.Sections[0]
	if sentence.Voice != "en-US-JennyMultilingualNeural" || sentence.Rate != 1.0 {
		t.Errorf("unexpected sentence section %+v", sentence)
	}
	wantSentence := []Node{Text("I need a job.", "en-US"), Pause(1000)}
	if !reflect.DeepEqual(sentence.Nodes, wantSentence) {
		t.Errorf("sentence nodes = %+v", sentence.Nodes)
	}

	words := doc.Sections[1]
	if words.Rate != 0.8 || words.Voice != "en-US-JennyMultilingualNeural" {
		t.Errorf("unexpected word section %+v", words)
	}
	wantWords := []Node{
		Text("I", "en-US"), Pause(300), Text("yo", "es-ES"), Pause(500),
		Text("need", "en-US"), Pause(300), Text("necesito", "es-ES"), Pause(500),
		Text("a job", "en-US"), Pause(300), Text("un trabajo", "es-ES"), Pause(500),
		Pause(1000),
	}
	if !reflect.DeepEqual(words.Nodes, wantWords) {
		t.Errorf("word nodes:\n got %+v\nwant %+v", words.Nodes, wantWords)
	}
}

func TestAssemble_UntranslatedWordKeepsPauses(t *testing.T) {
	variants := []Variant{{Formality: "native", Language: "de", Text: "Ich suche"}}
	pairs := map[string][]phrase.Pair{"de": {{Source: "suche", Target: "busco"}}}
	doc := Assemble(variants, pairs, testVoices())

	got := doc.Sections[1].Nodes[:3]
	want := []Node{Text("Ich", "de-DE"), Pause(300), Pause(500)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("untranslated word nodes = %+v, want %+v", got, want)
	}
}

func TestAssemble_SentenceOnlyFallback(t *testing.T) {
	variants := []Variant{
		{Formality: "native", Language: "de", Text: "Ich brauche einen Job."},
		{Formality: "informal", Language: "de", Text: "Ich brauch 'nen Job."},
		{Formality: "native", Language: "en", Text: "   "},
		{Formality: "informal", Language: "en", Text: "I need a gig."},
	}
	doc := Assemble(variants, nil, testVoices())

	if len(doc.Sections) != 3 {
		t.Fatalf("expected 3 sentence sections (blank skipped), got %d", len(doc.Sections))
	}
	if doc.Sections[1].Voice != "de-DE-KatjaNeural" {
		t.Errorf("informal German should use the alternate voice, got %s", doc.Sections[1].Voice)
	}
	if doc.Sections[2].Voice != "en-US-JennyNeural" || doc.Sections[2].Lang != "en-US" {
		t.Errorf("unexpected English informal section %+v", doc.Sections[2])
	}
}

func TestCollapsePauses_Idempotent(t *testing.T) {
	doc := &Document{Lang: "en-US", Sections: []Section{{
		Voice: "v", Rate: 0.8,
		Nodes: []Node{
			Text("a", "en-US"), Pause(500), Pause(500), Pause(500),
			Text("b", "en-US"), Pause(300), Pause(500), Pause(500), Pause(1000), Pause(1000),
		},
	}}}

	once := CollapsePauses(doc)
	twice := CollapsePauses(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("collapse not idempotent:\n once %+v\ntwice %+v", once, twice)
	}
	want := []Node{
		Text("a", "en-US"), Pause(500),
		Text("b", "en-US"), Pause(300), Pause(500), Pause(1000),
	}
	if !reflect.DeepEqual(once.Sections[0].Nodes, want) {
		t.Errorf("collapsed nodes = %+v", once.Sections[0].Nodes)
	}
	if len(doc.Sections[0].Nodes) != 10 {
		t.Error("input document must not be modified")
	}
}

func TestRender_Escaping(t *testing.T) {
	doc := &Document{Lang: "en-US", Sections: []Section{{
		Voice: "en-US-JennyMultilingualNeural", Rate: 0.8,
		Nodes: []Node{Text(`Tom & Jerry <3 "quotes"`, "en-US"), Pause(300)},
	}}}
	out := doc.Render()

	if !strings.HasPrefix(out, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US">`) {
		t.Errorf("unexpected root: %s", out)
	}
	for _, want := range []string{
		`<voice name="en-US-JennyMultilingualNeural"><prosody rate="0.8">`,
		`<lang xml:lang="en-US">Tom &amp; Jerry &lt;3 "quotes"</lang>`,
		`<break time="300ms"/>`,
		`</prosody></voice></speak>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q in %s", want, out)
		}
	}
	if strings.Contains(out, "<3") {
		t.Error("angle bracket in text must be escaped")
	}
}

func TestRaw(t *testing.T) {
	doc := Raw("  German Translation: <none>  ", "en-US-JennyMultilingualNeural", "es-ES")
	if len(doc.Sections) != 1 || doc.Lang != "es-ES" {
		t.Fatalf("unexpected raw document %+v", doc)
	}
	if n := doc.Sections[0].Nodes; len(n) != 1 || n[0].Text != "German Translation: <none>" {
		t.Errorf("unexpected raw nodes %+v", n)
	}
	if doc.TextLen() != len("German Translation: <none>") {
		t.Errorf("TextLen = %d", doc.TextLen())
	}
}

func TestFormatRate(t *testing.T) {
	if FormatRate(1) != "1.0" || FormatRate(0.8) != "0.8" || FormatRate(0) != "1.0" {
		t.Errorf("unexpected rate formatting")
	}
}
