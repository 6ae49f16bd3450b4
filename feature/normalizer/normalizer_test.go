package normalizer_test

import (
	"testing"

	"farmhand/feature/normalizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validModDesc = `<?xml version="1.0" encoding="utf-8" standalone="no"?>
<modDesc descVersion="60">
	<author>Example Modding</author>
	<version>1.2.0.0</version>
	<title>
		<en>Big Harvester Pack</en>
		<de>Grosses Erntemaschinen Paket</de>
	</title>
	<description><en>Some text.</en></description>
</modDesc>`

const validSavegame = `<?xml version="1.0" encoding="utf-8"?>
<careerSavegame revision="1">
	<settings>
		<savegameName>My Farm</savegameName>
		<mapTitle>Riverbend Springs</mapTitle>
		<saveDate>2025-03-01</saveDate>
	</settings>
	<statistics>
		<money>250000</money>
		<playTime>55.5</playTime>
	</statistics>
	<mod modName="FS25_bigHarvester" version="1.2.0.0"/>
	<mod modName="FS25_precisionFarming" version="2.0.0.1"/>
</careerSavegame>`

func TestNormalizeModDescriptor(t *testing.T) {
	rec, err := normalizer.Normalize([]byte(validModDesc), normalizer.KindModDescriptor)
	require.NoError(t, err)

	assert.Equal(t, normalizer.KindModDescriptor, rec.Kind)
	assert.Equal(t, "Big Harvester Pack", rec.Title.Value)
	assert.True(t, rec.Title.Known)
	assert.Equal(t, "1.2.0.0", rec.Version.Value)
	assert.Equal(t, "Example Modding", rec.Author.Value)

	// Optional fields the document never carries stay explicit sentinels.
	assert.False(t, rec.Category.Known)
	assert.Equal(t, normalizer.Unknown, rec.Category.Value)
}

func TestNormalizeModDescriptor_MissingOptionalAuthor(t *testing.T) {
	doc := `<modDesc descVersion="60"><version>1.0.0.0</version><title><en>Plain</en></title></modDesc>`
	rec, err := normalizer.Normalize([]byte(doc), normalizer.KindModDescriptor)
	require.NoError(t, err)

	assert.False(t, rec.Author.Known)
	assert.Equal(t, normalizer.Unknown, rec.Author.Value)
}

func TestNormalizeModDescriptor_MissingRequired(t *testing.T) {
	doc := `<modDesc descVersion="60"><author>Someone</author><version>1.0.0.0</version></modDesc>`
	_, err := normalizer.Normalize([]byte(doc), normalizer.KindModDescriptor)
	require.Error(t, err)

	ne, ok := normalizer.AsNormalizationError(err)
	require.True(t, ok)
	assert.Equal(t, normalizer.MalformedStructure, ne.Reason)
}

func TestNormalizeModDescriptor_MalformedNesting(t *testing.T) {
	doc := `<modDesc><title><en>Broken</title></en></modDesc>`
	_, err := normalizer.Normalize([]byte(doc), normalizer.KindModDescriptor)
	require.Error(t, err)

	ne, ok := normalizer.AsNormalizationError(err)
	require.True(t, ok)
	assert.Equal(t, normalizer.MalformedStructure, ne.Reason)
}

func TestNormalizeModDescriptor_WrongRootElement(t *testing.T) {
	_, err := normalizer.Normalize([]byte(validSavegame), normalizer.KindModDescriptor)
	require.Error(t, err)

	ne, ok := normalizer.AsNormalizationError(err)
	require.True(t, ok)
	assert.Equal(t, normalizer.MalformedStructure, ne.Reason)
}

func TestNormalizeModDescriptor_NoDeclarationLatin1(t *testing.T) {
	// 0xE9 is 'é' in Latin-1 and invalid UTF-8 on its own.
	doc := []byte("<modDesc><version>1.0.0.0</version><title><en>Ferme d'\xc9t\xe9</en></title></modDesc>")
	rec, err := normalizer.Normalize(doc, normalizer.KindModDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "Ferme d'Été", rec.Title.Value)
}

func TestNormalizeModDescriptor_DeclaredLegacyCharset(t *testing.T) {
	doc := []byte(`<?xml version="1.0" encoding="windows-1252"?><modDesc><version>1.0.0.0</version><title><en>Plain</en></title></modDesc>`)
	rec, err := normalizer.Normalize(doc, normalizer.KindModDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "Plain", rec.Title.Value)
}

func TestNormalizeSavegame(t *testing.T) {
	rec, err := normalizer.Normalize([]byte(validSavegame), normalizer.KindSavegameDescriptor)
	require.NoError(t, err)

	assert.Equal(t, "Riverbend Springs", rec.MapName.Value)
	assert.Equal(t, "My Farm", rec.SavegameName.Value)
	assert.Equal(t, "2025-03-01", rec.IngameDate.Value)
	assert.Equal(t, int64(250000), rec.Money.Value)
	assert.Equal(t, "250000", rec.Money.Literal)
	assert.Equal(t, "55.5", rec.PlayTime.Value)

	require.Len(t, rec.Dependencies, 2)
	assert.Equal(t, normalizer.ModDependency{Name: "FS25_bigHarvester", Version: "1.2.0.0"}, rec.Dependencies[0])
}

func TestNormalizeSavegame_FieldTypeMismatch(t *testing.T) {
	doc := `<careerSavegame>
		<settings><mapTitle>Somewhere</mapTitle></settings>
		<statistics><money>lots</money></statistics>
	</careerSavegame>`
	_, err := normalizer.Normalize([]byte(doc), normalizer.KindSavegameDescriptor)
	require.Error(t, err)

	ne, ok := normalizer.AsNormalizationError(err)
	require.True(t, ok)
	assert.Equal(t, normalizer.FieldTypeMismatch, ne.Reason)
	assert.Equal(t, "money", ne.Field)
}

func TestNormalizeSavegame_MissingRequiredMapTitle(t *testing.T) {
	doc := `<careerSavegame><settings><savegameName>x</savegameName></settings></careerSavegame>`
	_, err := normalizer.Normalize([]byte(doc), normalizer.KindSavegameDescriptor)
	require.Error(t, err)

	ne, ok := normalizer.AsNormalizationError(err)
	require.True(t, ok)
	assert.Equal(t, normalizer.MalformedStructure, ne.Reason)
}

func TestNormalizeSavegame_IgnoresUnexpectedElements(t *testing.T) {
	doc := `<careerSavegame>
		<settings><mapTitle>Somewhere</mapTitle><futureSetting>1</futureSetting></settings>
		<somethingNew><nested attr="2"/></somethingNew>
	</careerSavegame>`
	rec, err := normalizer.Normalize([]byte(doc), normalizer.KindSavegameDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "Somewhere", rec.MapName.Value)
}

func TestNormalizeMap(t *testing.T) {
	doc := `<map name="riverbend" width="2048" height="2048">
		<title><en>Riverbend Springs</en></title>
		<author>Example Modding</author>
		<version>1.0.0.0</version>
	</map>`
	rec, err := normalizer.Normalize([]byte(doc), normalizer.KindMapDescriptor)
	require.NoError(t, err)

	assert.Equal(t, "riverbend", rec.MapName.Value)
	assert.Equal(t, "Riverbend Springs", rec.Title.Value)
	assert.Equal(t, int64(2048), rec.Size.Value)
	assert.Equal(t, "2048", rec.Size.Literal)
}

func TestNormalizeMap_NonNumericWidth(t *testing.T) {
	doc := `<map name="riverbend" width="huge"></map>`
	_, err := normalizer.Normalize([]byte(doc), normalizer.KindMapDescriptor)
	require.Error(t, err)

	ne, ok := normalizer.AsNormalizationError(err)
	require.True(t, ok)
	assert.Equal(t, normalizer.FieldTypeMismatch, ne.Reason)
	assert.Equal(t, "width", ne.Field)
}

func TestNormalize_EmptyAndUnknownKind(t *testing.T) {
	_, err := normalizer.Normalize(nil, normalizer.KindModDescriptor)
	assert.Error(t, err)

	_, err = normalizer.Normalize([]byte(validModDesc), normalizer.SchemaKind("weird"))
	assert.Error(t, err)
}

func TestNaturalKey(t *testing.T) {
	slugRec := normalizer.CanonicalRecord{Slug: "fs25-big-harvester"}
	assert.Equal(t, "fs25-big-harvester", slugRec.NaturalKey())

	descRec := normalizer.CanonicalRecord{OwnerRef: "user-1", ContentHash: "abc123"}
	assert.Equal(t, "user-1/abc123", descRec.NaturalKey())
}
