package domain

type FormType string

const (
	FormLegal     FormType = "legal"
	FormProcedure FormType = "procedure"
)

func (f FormType) Valid() bool {
	return f == FormLegal || f == FormProcedure
}

type EntityKind string

const (
	EntityTitle             EntityKind = "title"
	EntityTextType          EntityKind = "text_type"
	EntityTextNumber        EntityKind = "text_number"
	EntityInstitution       EntityKind = "institution"
	EntitySignatureDate     EntityKind = "signature_date"
	EntityPublicationDate   EntityKind = "publication_date"
	EntityJONumber          EntityKind = "jo_number"
	EntityJODate            EntityKind = "jo_date"
	EntitySummary           EntityKind = "summary"
	EntityProcedureName     EntityKind = "procedure_name"
	EntityCategory          EntityKind = "category"
	EntityDuration          EntityKind = "duration"
	EntityCost              EntityKind = "cost"
	EntityRequiredDocuments EntityKind = "required_documents"
	EntityLegalReference    EntityKind = "legal_reference"
)

// FieldLevel controls how a missing field is reported. Required fields block
// validation, expected fields only warn, optional fields are silent.
type FieldLevel string

const (
	LevelRequired FieldLevel = "required"
	LevelExpected FieldLevel = "expected"
	LevelOptional FieldLevel = "optional"
)

type FieldSpec struct {
	Name  string
	Label string
	Level FieldLevel
	Kinds []EntityKind
}

type Schema struct {
	FormType FormType
	Fields   []FieldSpec
}

func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

var LegalTextSchema = Schema{
	FormType: FormLegal,
	Fields: []FieldSpec{
		{Name: "title", Label: "Intitulé", Level: LevelRequired, Kinds: []EntityKind{EntityTitle}},
		{Name: "textType", Label: "Type de texte", Level: LevelRequired, Kinds: []EntityKind{EntityTextType}},
		{Name: "textNumber", Label: "Numéro", Level: LevelRequired, Kinds: []EntityKind{EntityTextNumber}},
		{Name: "institution", Label: "Institution", Level: LevelOptional, Kinds: []EntityKind{EntityInstitution}},
		{Name: "signatureDate", Label: "Date de signature", Level: LevelExpected, Kinds: []EntityKind{EntitySignatureDate}},
		{Name: "publicationDate", Label: "Date de publication", Level: LevelOptional, Kinds: []EntityKind{EntityPublicationDate, EntityJODate}},
		{Name: "joNumber", Label: "Numéro du Journal officiel", Level: LevelExpected, Kinds: []EntityKind{EntityJONumber}},
		{Name: "joDate", Label: "Date du Journal officiel", Level: LevelOptional, Kinds: []EntityKind{EntityJODate}},
		{Name: "summary", Label: "Résumé", Level: LevelOptional, Kinds: []EntityKind{EntitySummary}},
	},
}

var ProcedureSchema = Schema{
	FormType: FormProcedure,
	Fields: []FieldSpec{
		{Name: "name", Label: "Intitulé de la procédure", Level: LevelRequired, Kinds: []EntityKind{EntityProcedureName, EntityTitle}},
		{Name: "category", Label: "Catégorie", Level: LevelOptional, Kinds: []EntityKind{EntityCategory}},
		{Name: "institution", Label: "Administration", Level: LevelRequired, Kinds: []EntityKind{EntityInstitution}},
		{Name: "duration", Label: "Délai", Level: LevelExpected, Kinds: []EntityKind{EntityDuration}},
		{Name: "cost", Label: "Coût", Level: LevelOptional, Kinds: []EntityKind{EntityCost}},
		{Name: "requiredDocuments", Label: "Pièces à fournir", Level: LevelExpected, Kinds: []EntityKind{EntityRequiredDocuments}},
		{Name: "legalBasis", Label: "Base légale", Level: LevelOptional, Kinds: []EntityKind{EntityLegalReference}},
	},
}

func SchemaFor(formType FormType) (Schema, bool) {
	switch formType {
	case FormLegal:
		return LegalTextSchema, true
	case FormProcedure:
		return ProcedureSchema, true
	default:
		return Schema{}, false
	}
}

// KnownTextTypes are the normalized Algerian legal text categories accepted
// by the compliance rules.
var KnownTextTypes = map[string]struct{}{
	"constitution":             {},
	"loi organique":            {},
	"loi":                      {},
	"ordonnance":               {},
	"décret législatif":        {},
	"décret présidentiel":      {},
	"décret exécutif":          {},
	"décret":                   {},
	"arrêté interministériel":  {},
	"arrêté":                   {},
	"décision":                 {},
	"instruction":              {},
	"circulaire":               {},
}
