package saml

import "encoding/xml"

// artifactResponseEnvelope is the IdP's reply to ArtifactResolve.
type artifactResponseEnvelope struct {
	XMLName xml.Name             `xml:"Envelope"`
	Body    artifactResponseBody `xml:"Body"`
}

type artifactResponseBody struct {
	ArtifactResponse artifactResponse `xml:"ArtifactResponse"`
}

type artifactResponse struct {
	Status   samlStatus `xml:"Status"`
	Response *ssoResponse `xml:"Response"`
}

type samlStatus struct {
	StatusCode samlStatusCode `xml:"StatusCode"`
}

type samlStatusCode struct {
	Value string `xml:"Value,attr"`
}

const statusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// ssoResponse is the inner saml2p:Response the IdP embeds in the
// ArtifactResponse once the artifact is resolved.
type ssoResponse struct {
	InResponseTo string        `xml:"InResponseTo,attr"`
	Issuer       string        `xml:"Issuer"`
	Status       samlStatus    `xml:"Status"`
	Assertion    *samlAssertion `xml:"Assertion"`
}

type samlAssertion struct {
	Subject    assertionSubject `xml:"Subject"`
	Conditions assertionConditions `xml:"Conditions"`
	Attributes []samlAttribute  `xml:"AttributeStatement>Attribute"`
}

type assertionSubject struct {
	NameID             string `xml:"NameID"`
	SubjectConfirmation struct {
		SubjectConfirmationData struct {
			Recipient string `xml:"Recipient,attr"`
		} `xml:"SubjectConfirmationData"`
	} `xml:"SubjectConfirmation"`
}

type assertionConditions struct {
	NotOnOrAfter string `xml:"NotOnOrAfter,attr"`
}

type samlAttribute struct {
	Name   string   `xml:"Name,attr"`
	Values []string `xml:"AttributeValue"`
}

// Security-Manager extension attribute names carried in the assertion,
// per §4.11's "Security-Manager extension attribute" identity source.
const (
	secmgrUsernameAttr = "SecmgrUsername"
	secmgrDomainAttr   = "SecmgrDomain"
	secmgrGroupsAttr   = "SecmgrGroups"
)

// authzEnvelope is the inbound SOAP envelope SamlBatchAuthzHandler
// accepts, containing one or more AuthzDecisionQuery elements.
type authzEnvelope struct {
	XMLName xml.Name  `xml:"Envelope"`
	Body    authzBody `xml:"Body"`
}

type authzBody struct {
	Queries []authzDecisionQuery `xml:"AuthzDecisionQuery"`
}

type authzDecisionQuery struct {
	ID       string            `xml:"ID,attr"`
	Resource string            `xml:"Resource,attr"`
	Subject  authzSubject      `xml:"Subject"`
	Extension *authzExtension  `xml:"Extensions>SecmgrCredential"`
}

type authzSubject struct {
	NameID string `xml:"NameID"`
}

type authzExtension struct {
	Username string   `xml:"Username"`
	Domain   string   `xml:"Domain"`
	Password string   `xml:"Password"`
	Groups   []string `xml:"Group"`
}
