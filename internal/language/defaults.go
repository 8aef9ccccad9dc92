package language

var defaultLanguages = []Language{
	{Code: "en", Name: "English"},
	{Code: "hi", Name: "Hindi"},
	{Code: "bn", Name: "Bengali"},
	{Code: "ta", Name: "Tamil"},
	{Code: "te", Name: "Telugu"},
	{Code: "ml", Name: "Malayalam"},
	{Code: "gu", Name: "Gujarati"},
	{Code: "mr", Name: "Marathi"},
	{Code: "pa", Name: "Punjabi"},
	{Code: "or", Name: "Odia"},
	{Code: "kn", Name: "Kannada"},
}

// Default returns the built-in registry: English plus ten Indic languages,
// each with opus-mt models to and from English.
func Default() *Registry {
	var models []Model
	for _, lang := range defaultLanguages {
		if lang.Code == English {
			continue
		}
		models = append(models,
			Model{ID: opusMT(lang.Code, English), Source: lang.Code, Target: English},
			Model{ID: opusMT(English, lang.Code), Source: English, Target: lang.Code},
		)
	}
	r, err := New(defaultLanguages, models)
	if err != nil {
		panic(err)
	}
	return r
}

func opusMT(src, tgt Code) string {
	return "Helsinki-NLP/opus-mt-" + string(src) + "-" + string(tgt)
}
