package intent

import "github.com/fluxion/voice-agent/internal/domain"

// Category groups the cortesia phrases.
type Category string

const (
	CategoryNone     Category = ""
	CategorySaluto   Category = "saluto"
	CategoryGrazie   Category = "ringraziamento"
	CategoryScusa    Category = "scusa"
	CategoryAttesa   Category = "attesa"
	CategoryCongedo  Category = "congedo"
	CategoryConferma Category = "conferma"
	CategoryRifiuto  Category = "rifiuto"
)

type cannedPhrase struct {
	intent   domain.Intent
	category Category
	response string
}

// Cortesia phrases answered without further processing. Confirmation and
// rejection entries carry no response: they only classify, so an active
// booking dialog still receives them.
var exactPhrases = map[string]cannedPhrase{
	// saluto
	"buongiorno":            {domain.IntentGreeting, CategorySaluto, "Buongiorno! Come posso aiutarla?"},
	"buon giorno":           {domain.IntentGreeting, CategorySaluto, "Buongiorno! Come posso aiutarla?"},
	"buonasera":             {domain.IntentGreeting, CategorySaluto, "Buonasera! Come posso aiutarla?"},
	"buona sera":            {domain.IntentGreeting, CategorySaluto, "Buonasera! Come posso aiutarla?"},
	"buon pomeriggio":       {domain.IntentGreeting, CategorySaluto, "Buon pomeriggio! Come posso aiutarla?"},
	"salve":                 {domain.IntentGreeting, CategorySaluto, "Salve! Come posso aiutarla?"},
	"ciao":                  {domain.IntentGreeting, CategorySaluto, "Ciao! Come posso aiutarti?"},
	"pronto":                {domain.IntentGreeting, CategorySaluto, "Sì, pronto! Sono qui, mi dica pure."},
	"pronto chi parla":      {domain.IntentGreeting, CategorySaluto, "Sono Sara, l'assistente virtuale. Come posso aiutarla?"},
	"chi sei":               {domain.IntentGreeting, CategorySaluto, "Sono Sara, l'assistente virtuale. Posso aiutarla a prenotare o darle informazioni."},
	"con chi parlo":         {domain.IntentGreeting, CategorySaluto, "Sono Sara, l'assistente virtuale. Posso aiutarla a prenotare o darle informazioni."},
	"sei un robot":          {domain.IntentGreeting, CategorySaluto, "Sono un'assistente virtuale, ma posso aiutarla a prenotare proprio come farebbe la reception."},
	"come stai":             {domain.IntentGreeting, CategorySaluto, "Benissimo, grazie! Come posso aiutarla?"},
	"come sta":              {domain.IntentGreeting, CategorySaluto, "Benissimo, grazie! Come posso aiutarla?"},
	"mi sente":              {domain.IntentGreeting, CategorySaluto, "Sì, la sento benissimo. Mi dica pure."},
	"mi senti":              {domain.IntentGreeting, CategorySaluto, "Sì, la sento benissimo. Mi dica pure."},
	"buongiorno sara":       {domain.IntentGreeting, CategorySaluto, "Buongiorno! Come posso aiutarla?"},
	"ciao sara":             {domain.IntentGreeting, CategorySaluto, "Ciao! Come posso aiutarti?"},
	// ringraziamento
	"grazie":                {domain.IntentGreeting, CategoryGrazie, "Prego, si figuri! Posso fare altro per lei?"},
	"grazie mille":          {domain.IntentGreeting, CategoryGrazie, "Prego, è un piacere! Posso fare altro per lei?"},
	"grazie tante":          {domain.IntentGreeting, CategoryGrazie, "Prego! Posso fare altro per lei?"},
	"ti ringrazio":          {domain.IntentGreeting, CategoryGrazie, "Prego, figurati! Posso fare altro?"},
	"la ringrazio":          {domain.IntentGreeting, CategoryGrazie, "Prego, si figuri! Posso fare altro per lei?"},
	"molto gentile":         {domain.IntentGreeting, CategoryGrazie, "Grazie a lei! Posso fare altro?"},
	"gentilissima":          {domain.IntentGreeting, CategoryGrazie, "Grazie a lei! Posso fare altro?"},
	"perfetto grazie":       {domain.IntentGreeting, CategoryGrazie, "Prego! Posso fare altro per lei?"},
	// scusa
	"scusi":                 {domain.IntentGreeting, CategoryScusa, "Nessun problema, mi dica pure."},
	"mi scusi":              {domain.IntentGreeting, CategoryScusa, "Nessun problema, mi dica pure."},
	"scusa":                 {domain.IntentGreeting, CategoryScusa, "Nessun problema, dimmi pure."},
	"chiedo scusa":          {domain.IntentGreeting, CategoryScusa, "Non si preoccupi, mi dica pure."},
	"scusate":               {domain.IntentGreeting, CategoryScusa, "Nessun problema, mi dica pure."},
	"mi scusi il disturbo":  {domain.IntentGreeting, CategoryScusa, "Nessun disturbo, mi dica pure."},
	// attesa
	"un attimo":             {domain.IntentGreeting, CategoryAttesa, "Certo, faccia pure con calma."},
	"un momento":            {domain.IntentGreeting, CategoryAttesa, "Certo, faccia pure con calma."},
	"un secondo":            {domain.IntentGreeting, CategoryAttesa, "Certo, la aspetto."},
	"aspetti":               {domain.IntentGreeting, CategoryAttesa, "Certo, la aspetto."},
	"aspetta":               {domain.IntentGreeting, CategoryAttesa, "Certo, ti aspetto."},
	"attenda un attimo":     {domain.IntentGreeting, CategoryAttesa, "Certo, la aspetto."},
	"resti in linea":        {domain.IntentGreeting, CategoryAttesa, "Certo, resto in linea."},
	"devo controllare":      {domain.IntentGreeting, CategoryAttesa, "Certo, controlli pure con calma."},
	"fammi pensare":         {domain.IntentGreeting, CategoryAttesa, "Certo, pensaci con calma."},
	"mi faccia pensare":     {domain.IntentGreeting, CategoryAttesa, "Certo, ci pensi con calma."},
	// congedo
	"arrivederci":           {domain.IntentFarewell, CategoryCongedo, "Arrivederci e buona giornata!"},
	"buona giornata":        {domain.IntentFarewell, CategoryCongedo, "Buona giornata anche a lei, arrivederci!"},
	"buona serata":          {domain.IntentFarewell, CategoryCongedo, "Buona serata anche a lei, arrivederci!"},
	"a presto":              {domain.IntentFarewell, CategoryCongedo, "A presto, arrivederci!"},
	"ciao ciao":             {domain.IntentFarewell, CategoryCongedo, "Ciao, a presto!"},
	"grazie arrivederci":    {domain.IntentFarewell, CategoryCongedo, "Grazie a lei, arrivederci!"},
	"grazie e arrivederci":  {domain.IntentFarewell, CategoryCongedo, "Grazie a lei, arrivederci!"},
	"basta cosi grazie":     {domain.IntentFarewell, CategoryCongedo, "Perfetto, grazie a lei e arrivederci!"},
	"nient'altro grazie":    {domain.IntentFarewell, CategoryCongedo, "Perfetto, grazie a lei e arrivederci!"},
	"no grazie arrivederci": {domain.IntentFarewell, CategoryCongedo, "Grazie a lei, arrivederci!"},
	// conferma
	"si":                    {domain.IntentConfirmation, CategoryConferma, ""},
	"si'":                   {domain.IntentConfirmation, CategoryConferma, ""},
	"si si":                 {domain.IntentConfirmation, CategoryConferma, ""},
	"certo":                 {domain.IntentConfirmation, CategoryConferma, ""},
	"certamente":            {domain.IntentConfirmation, CategoryConferma, ""},
	"ok":                    {domain.IntentConfirmation, CategoryConferma, ""},
	"okay":                  {domain.IntentConfirmation, CategoryConferma, ""},
	"va bene":               {domain.IntentConfirmation, CategoryConferma, ""},
	"perfetto":              {domain.IntentConfirmation, CategoryConferma, ""},
	"d'accordo":             {domain.IntentConfirmation, CategoryConferma, ""},
	"esatto":                {domain.IntentConfirmation, CategoryConferma, ""},
	"giusto":                {domain.IntentConfirmation, CategoryConferma, ""},
	"confermo":              {domain.IntentConfirmation, CategoryConferma, ""},
	"si confermo":           {domain.IntentConfirmation, CategoryConferma, ""},
	"assolutamente":         {domain.IntentConfirmation, CategoryConferma, ""},
	"procediamo":            {domain.IntentConfirmation, CategoryConferma, ""},
	// rifiuto
	"no":                    {domain.IntentRejection, CategoryRifiuto, ""},
	"no grazie":             {domain.IntentRejection, CategoryRifiuto, ""},
	"niente":                {domain.IntentRejection, CategoryRifiuto, ""},
	"non voglio":            {domain.IntentRejection, CategoryRifiuto, ""},
	"lascia stare":          {domain.IntentRejection, CategoryRifiuto, ""},
	"lasci stare":           {domain.IntentRejection, CategoryRifiuto, ""},
	"non mi va":             {domain.IntentRejection, CategoryRifiuto, ""},
	"ho cambiato idea":      {domain.IntentRejection, CategoryRifiuto, ""},
	"no no":                 {domain.IntentRejection, CategoryRifiuto, ""},
}
